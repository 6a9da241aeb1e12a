package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallAndGet(t *testing.T) {
	r := New()
	called := false
	r.Install(Info{ID: "echo", Title: "Echo"}, func(_ context.Context, request []byte, response *Response) error {
		called = true
		response.Body = request
		return nil
	})

	handler, err := r.Get("echo")
	assert.NoError(t, err)

	var resp Response
	assert.NoError(t, handler(context.Background(), []byte("hi"), &resp))
	assert.True(t, called)
	assert.Equal(t, []byte("hi"), resp.Body)
}

func TestGetUnknownHandler(t *testing.T) {
	r := New()
	_, err := r.Get("does-not-exist")

	var unknown *ErrUnknownHandler
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "does-not-exist", unknown.HandlerID)
}

func TestList(t *testing.T) {
	r := New()
	r.Install(Info{ID: "a", Title: "A"}, func(context.Context, []byte, *Response) error { return nil })
	r.Install(Info{ID: "b", Title: "B"}, func(context.Context, []byte, *Response) error { return nil })

	infos := r.List()
	assert.Len(t, infos, 2)
}

func TestGetInfo(t *testing.T) {
	r := New()
	r.Install(Info{ID: "a", Title: "A", Description: "does a"}, func(context.Context, []byte, *Response) error { return nil })

	info, err := r.GetInfo("a")
	assert.NoError(t, err)
	assert.Equal(t, "does a", info.Description)

	_, err = r.GetInfo("missing")
	assert.Error(t, err)
}
