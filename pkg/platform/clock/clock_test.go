package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_NowMovesOnlyOnAdvance(t *testing.T) {
	c := Fake(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), c.Now())
}

func TestFake_TickerFiresAtDeadlines(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)
	defer ticker.Stop()

	c.Advance(9 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-ticker.C:
		assert.Equal(t, epoch.Add(10*time.Second), at)
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
}

func TestFake_LateTicksAreDropped(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	c.Advance(5 * time.Second)

	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("buffered more than one tick")
	default:
	}
}

func TestFake_StoppedTickerNeverFires(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(time.Minute)

	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFake_WaitForTickers(t *testing.T) {
	c := Fake(epoch)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.NewTicker(time.Second)
	}()

	c.WaitForTickers(1)
	wg.Wait()
}

func TestFake_NonPositiveIntervalPanics(t *testing.T) {
	require.Panics(t, func() { Fake(epoch).NewTicker(0) })
}

func TestReal(t *testing.T) {
	c := Real()
	before := time.Now()
	assert.False(t, c.Now().Before(before))

	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C:
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}
