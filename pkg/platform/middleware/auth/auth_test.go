package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "neurotravel/internal/jwt_token"
	"neurotravel/pkg/testutil"
)

func TestRequireIngestToken(t *testing.T) {
	svc := jwttoken.NewJWTService("test-signing-key", "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotSession, gotStream string
	h := RequireIngestToken(svc, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = GetSessionID(r.Context())
		gotStream = GetStream(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	serve := func(authHeader string) *httptest.ResponseRecorder {
		r := testutil.NewRequestWithBody(t, http.MethodPost, "/api/analytics", `{"events":[]}`)
		if authHeader != "" {
			r.Header.Set("Authorization", authHeader)
		}
		return testutil.DoRequest(h, r)
	}

	t.Run("valid token passes claims through", func(t *testing.T) {
		token, err := svc.GenerateIngestToken("session-1", "analytics", time.Minute)
		require.NoError(t, err)

		w := serve("Bearer " + token)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "session-1", gotSession)
		assert.Equal(t, "analytics", gotStream)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		testutil.AssertStatusAndError(t, serve(""), http.StatusUnauthorized, "unauthorized")
	})

	t.Run("wrong scheme is unauthorized", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("Basic abc").Code)
	})

	t.Run("token signed with another key is unauthorized", func(t *testing.T) {
		other := jwttoken.NewJWTService("other-key", "")
		token, err := other.GenerateIngestToken("session-1", "", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token).Code)
	})
}
