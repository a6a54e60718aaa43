package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestWaitForGroup(t *testing.T) {
	var wg sync.WaitGroup
	wg.Go(func() { time.Sleep(10 * time.Millisecond) })
	WaitForGroup(t, &wg, ShortTestTimeout, "group did not finish")
}

func TestWaitForChannel(t *testing.T) {
	ch := make(chan struct{})
	close(ch)
	WaitForChannel(t, ch, ShortTestTimeout, "closed channel not observed")
}
