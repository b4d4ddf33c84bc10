package ipc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createConnPair(t *testing.T) (*ipc.Conn, *ipc.Conn) {
	a, b := ipc.Pipe()

	parent := ipc.NewConn(a, zap.NewNop())
	child := ipc.NewConn(b, zap.NewNop())

	t.Cleanup(func() {
		parent.Close()
		child.Close()
	})

	return parent, child
}

func TestConn_WaitFor_BuffersOtherTags(t *testing.T) {
	parent, child := createConnPair(t)

	require.NoError(t, child.Send(ipc.TagOnline, ipc.Online{Pid: 42}))
	require.NoError(t, child.Send(ipc.TagLog, ipc.Log{Level: "info", Message: "booting"}))
	require.NoError(t, child.Send(ipc.TagReady, ipc.Ready{Address: ipc.Address{Host: "127.0.0.1", Port: 1}}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := parent.WaitFor(ctx, ipc.TagReady)
	require.NoError(t, err)
	assert.Equal(t, ipc.TagReady, msg.Tag)

	// skipped messages are still available, in order
	msg, err = parent.WaitFor(ctx, ipc.TagLog, ipc.TagOnline)
	require.NoError(t, err)
	assert.Equal(t, ipc.TagOnline, msg.Tag)

	var online ipc.Online
	require.NoError(t, msg.Decode(&online))
	assert.Equal(t, 42, online.Pid)

	msg, err = parent.WaitFor(ctx, ipc.TagLog)
	require.NoError(t, err)
	assert.Equal(t, ipc.TagLog, msg.Tag)
}

func TestConn_WaitFor_BlocksUntilArrival(t *testing.T) {
	parent, child := createConnPair(t)

	result := make(chan ipc.Message, 1)
	go func() {
		msg, err := parent.WaitFor(context.Background(), ipc.TagPatchResult)
		assert.NoError(t, err)
		result <- msg
	}()

	require.NoError(t, child.Send(ipc.TagLog, ipc.Log{Message: "noise"}))
	require.NoError(t, child.Send(ipc.TagPatchResult, ipc.PatchResult{Status: ipc.Patched}))

	select {
	case msg := <-result:
		assert.Equal(t, ipc.TagPatchResult, msg.Tag)
	case <-time.After(time.Second):
		t.Fatal("WaitFor never returned")
	}
}

func TestConn_WaitFor_ContextCancelled(t *testing.T) {
	parent, _ := createConnPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := parent.WaitFor(ctx, ipc.TagReady)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_WaitFor_FailsOnDisconnect(t *testing.T) {
	parent, child := createConnPair(t)

	errs := make(chan error, 1)
	go func() {
		_, err := parent.WaitFor(context.Background(), ipc.TagPatchResult)
		errs <- err
	}()

	require.NoError(t, child.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ipc.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("WaitFor hung after disconnect")
	}

	require.Eventually(t, func() bool {
		return parent.Err() != nil
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, parent.Send(ipc.TagPatch, nil), ipc.ErrClosed)
}

func TestConn_Handle_DispatchesAndDrains(t *testing.T) {
	parent, child := createConnPair(t)

	require.NoError(t, parent.Send(ipc.TagPatch, ipc.Patch{Changed: map[string]string{"/a": "1"}}))

	var mu sync.Mutex
	var got []ipc.Patch

	child.Handle(ipc.TagPatch, func(m ipc.Message) {
		var p ipc.Patch
		assert.NoError(t, m.Decode(&p))
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	require.NoError(t, parent.Send(ipc.TagPatch, ipc.Patch{Removed: []string{"/b"}}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "1", got[0].Changed["/a"])
	assert.Equal(t, []string{"/b"}, got[1].Removed)
}
