package bridge

import (
	"context"
	"io"
	"sync"

	"bazil.org/fuse"
)

// Serve reads requests from c until the kernel closes the session and
// handles each on its own goroutine. It returns once every in-flight
// request has been answered.
func (b *Bridge) Serve(c *fuse.Conn) error {
	s := newServer(b)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		req, err := c.ReadRequest()
		if err != nil {
			if err == io.EOF {
				b.logger.Debug("session closed")
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(req)
		}()
	}
}

type server struct {
	bridge *Bridge

	mu       sync.Mutex
	inflight map[fuse.RequestID]context.CancelFunc
}

func newServer(b *Bridge) *server {
	return &server{
		bridge:   b,
		inflight: make(map[fuse.RequestID]context.CancelFunc),
	}
}

func (s *server) begin(id fuse.RequestID) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		cancel()
	}
}

func (s *server) interrupt(id fuse.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.inflight[id]; ok {
		cancel()
	}
}

func (s *server) serve(r fuse.Request) {
	b := s.bridge
	hdr := r.Hdr()
	ctx, done := s.begin(hdr.ID)
	defer done()

	b.logger.Trace("<- %v", r)

	resp, err := s.handle(ctx, r)
	if err != nil {
		r.RespondError(ToErrno(err))
		return
	}
	respond(r, resp)
}

// handle runs the handler for r and returns the reply body, or nil for
// requests acknowledged without one. Failures come back as an *Error.
func (s *server) handle(ctx context.Context, r fuse.Request) (interface{}, error) {
	b := s.bridge

	fail := func(op string, node uint64, err error) (interface{}, error) {
		e := &Error{Op: op, Node: node, Err: err}
		b.logger.Trace("%v", e)
		return nil, e
	}

	switch r := r.(type) {
	case *fuse.LookupRequest:
		resp, err := b.Lookup(ctx, r.Node, r.Name)
		if err != nil {
			return fail(OpLookup, uint64(r.Node), err)
		}
		return resp, nil

	case *fuse.GetattrRequest:
		resp, err := b.Getattr(ctx, r.Node)
		if err != nil {
			return fail(OpGetattr, uint64(r.Node), err)
		}
		return resp, nil

	case *fuse.OpenRequest:
		var resp *fuse.OpenResponse
		var err error
		op := OpOpen
		if r.Dir {
			op = OpOpendir
			resp, err = b.Opendir(ctx, r.Node, r.Flags)
		} else {
			resp, err = b.Open(ctx, r.Node, r.Flags)
		}
		if err != nil {
			return fail(op, uint64(r.Node), err)
		}
		return resp, nil

	case *fuse.ReadRequest:
		var resp *fuse.ReadResponse
		var err error
		op := OpRead
		if r.Dir {
			op = OpReaddir
			resp, err = b.Readdir(ctx, r.Handle, r.Offset, r.Size)
		} else {
			resp, err = b.Read(ctx, r.Handle, r.Offset, r.Size)
		}
		if err != nil {
			return fail(op, uint64(r.Handle), err)
		}
		return resp, nil

	case *fuse.ReleaseRequest:
		// always acknowledged; the kernel has already forgotten the handle
		op := OpRelease
		if r.Dir {
			op = OpReleasedir
		}
		if err := b.Release(ctx, r.Handle); err != nil {
			b.logger.Debug("%v", &Error{Op: op, Node: uint64(r.Handle), Err: err})
		}
		return nil, nil

	case *fuse.ReadlinkRequest:
		target, err := b.Readlink(ctx, r.Node)
		if err != nil {
			return fail(OpReadlink, uint64(r.Node), err)
		}
		return target, nil

	case *fuse.ForgetRequest:
		b.Forget(ctx, r.Node, r.N)
		return nil, nil

	case *fuse.StatfsRequest:
		st, err := b.Statfs(ctx)
		if err != nil {
			return fail(OpStatfs, 0, err)
		}
		return st.Response(), nil

	case *fuse.InterruptRequest:
		s.interrupt(r.IntrID)
		return nil, nil

	case *fuse.DestroyRequest:
		b.logger.Info("%s: kernel ended the session", OpDestroy)
		b.Destroy(ctx)
		return nil, nil

	default:
		return nil, fuse.ENOSYS
	}
}

// respond sends resp, as produced by handle for r.
func respond(r fuse.Request, resp interface{}) {
	switch r := r.(type) {
	case *fuse.LookupRequest:
		r.Respond(resp.(*fuse.LookupResponse))
	case *fuse.GetattrRequest:
		r.Respond(resp.(*fuse.GetattrResponse))
	case *fuse.OpenRequest:
		r.Respond(resp.(*fuse.OpenResponse))
	case *fuse.ReadRequest:
		r.Respond(resp.(*fuse.ReadResponse))
	case *fuse.ReadlinkRequest:
		r.Respond(resp.(string))
	case *fuse.StatfsRequest:
		r.Respond(resp.(*fuse.StatfsResponse))
	case *fuse.ReleaseRequest:
		r.Respond()
	case *fuse.ForgetRequest:
		r.Respond()
	case *fuse.InterruptRequest:
		r.Respond()
	case *fuse.DestroyRequest:
		r.Respond()
	}
}
