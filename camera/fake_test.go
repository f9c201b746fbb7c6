package camera

import (
	"context"
	"image"
	"io"
	"sync"
)

type fakeStream struct {
	id     string
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) DeviceID() string { return s.id }

func (s *fakeStream) ReadFrame() (image.Image, func(), error) {
	return nil, nil, io.EOF
}

func (s *fakeStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeMedia answers Open calls from a scripted list of results
type fakeMedia struct {
	devices    []Device
	enumErr    error
	results    []error
	calls      []Constraints
	permission Permission
}

func (m *fakeMedia) EnumerateDevices(ctx context.Context) ([]Device, error) {
	return m.devices, m.enumErr
}

func (m *fakeMedia) Open(ctx context.Context, c Constraints) (Stream, error) {
	i := len(m.calls)
	m.calls = append(m.calls, c)
	if i < len(m.results) && m.results[i] != nil {
		return nil, m.results[i]
	}
	id := c.DeviceID
	if id == "" {
		id = "platform-default"
	}
	return &fakeStream{id: id}, nil
}

func (m *fakeMedia) Permission(ctx context.Context) Permission {
	if m.permission == "" {
		return PermissionUnknown
	}
	return m.permission
}
