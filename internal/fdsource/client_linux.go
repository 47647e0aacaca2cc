//go:build linux

package fdsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
)

var log = logger.For("FdSource")

const (
	maxReply  = 4096
	maxRights = 4
)

// Client requests descriptors from the camera service socket.
type Client struct {
	socketPath string
	name       string
	timeout    time.Duration
}

// NewClient returns a client that talks to socketPath and binds to an
// abstract address derived from identifier.
func NewClient(socketPath, identifier string) (*Client, error) {
	if socketPath == "" || identifier == "" {
		return nil, fmt.Errorf("fdsource: socket path and identifier are required")
	}

	return &Client{
		socketPath: socketPath,
		name:       ClientName(identifier),
		timeout:    DefaultTimeout,
	}, nil
}

// Name returns the client name announced to the service.
func (c *Client) Name() string { return c.name }

// GetFd requests the descriptor of type typ for handle. The caller owns the
// returned descriptor.
func (c *Client) GetFd(ctx context.Context, handle int, typ FdType) (int, error) {
	if typ != FdBuffer && typ != FdSignal {
		return -1, fmt.Errorf("fdsource: unknown descriptor type %q", typ)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	laddr := &net.UnixAddr{Name: "@" + c.name, Net: "unixpacket"}
	raddr := &net.UnixAddr{Name: c.socketPath, Net: "unixpacket"}

	conn, err := net.DialUnix("unixpacket", laddr, raddr)
	if err != nil {
		log.Errorf("dial %s: %v", c.socketPath, err)
		return -1, fmt.Errorf("fdsource: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Unblock I/O once ctx ends; ctx.Err is set by then.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req, err := json.Marshal(Request{Handle: handle, Type: typ})
	if err != nil {
		return -1, err
	}

	if _, err := conn.Write(req); err != nil {
		return -1, c.ioErr(ctx, "send request", err)
	}

	buf := make([]byte, maxReply)
	oob := make([]byte, unix.CmsgSpace(4*maxRights))

	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, c.ioErr(ctx, "read reply", err)
	}

	fds, err := parseRights(oob[:oobn])
	if err != nil {
		return -1, err
	}

	if flags&unix.MSG_TRUNC != 0 {
		closeAll(fds)
		return -1, fmt.Errorf("%w: reply truncated at %d bytes", ErrRequestFailed, maxReply)
	}

	if flags&unix.MSG_CTRUNC != 0 {
		closeAll(fds)
		return -1, fmt.Errorf("%w: more than %d descriptors in reply", ErrRequestFailed, maxRights)
	}

	var resp Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		closeAll(fds)
		return -1, fmt.Errorf("%w: bad reply %q: %w", ErrRequestFailed, buf[:n], err)
	}

	if !resp.ReturnValue {
		closeAll(fds)
		log.Errorf("handle=%d type=%s: service error %d %q", handle, typ, resp.ErrorCode, resp.ErrorText)

		return -1, fmt.Errorf("%w: handle %d %s: %d %s", ErrRequestFailed, handle, typ, resp.ErrorCode, resp.ErrorText)
	}

	if len(fds) != 1 {
		closeAll(fds)
		return -1, fmt.Errorf("%w: got %d", ErrNoDescriptor, len(fds))
	}

	log.Infof("handle=%d type=%s: fd=%d", handle, typ, fds[0])

	return fds[0], nil
}

func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("fdsource: %s: %w", op, ctxErr)
	}

	return fmt.Errorf("fdsource: %s: %w", op, err)
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}

	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("fdsource: parse control message: %w", err)
	}

	var fds []int

	for i := range msgs {
		got, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}

		fds = append(fds, got...)
	}

	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
