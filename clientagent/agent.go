package clientagent

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
	"golang.org/x/text/unicode/norm"

	"github.com/cube-wm/cubed"
	"github.com/cube-wm/cubed/buffer"
	"github.com/cube-wm/cubed/compositor"
)

// maxFDsPerMessage bounds the SCM_RIGHTS ancillary data an incoming
// create-bo message can carry (one fd per DMA-BUF plane).
const maxFDsPerMessage = buffer.MaxPlanes

// Agent is one connected client's IPC endpoint (spec.md §4.8): a
// non-blocking read/write loop over a UNIX-domain-socket connection,
// dispatching decoded sub-commands into compositor.ClientCallbacks and
// implementing view.ClientAgent to send buffer-lifecycle notifications
// back out.
type Agent struct {
	fd      int
	cb      compositor.ClientCallbacks
	id      uint64
	readBuf []byte
	writeBuf []byte
	closed  bool
}

// NewAgent wraps an already-accepted, non-blocking connection fd and
// registers it with cb.
func NewAgent(fd int, cb compositor.ClientCallbacks) *Agent {
	a := &Agent{fd: fd, cb: cb}
	a.id = cb.NewClient(a)
	return a
}

// Fd returns the connection descriptor, for epoll registration.
func (a *Agent) Fd() int { return a.fd }

// Closed reports whether this agent's connection has been torn down.
func (a *Agent) Closed() bool { return a.closed }

// Close releases the connection and every surface/view/buffer the
// compositor still attributes to this client (spec.md §7
// fatal-to-connection).
func (a *Agent) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.cb.DestroyClient(a.id)
	unix.Close(a.fd)
}

// HandleReadable drains every datagram currently available on the
// connection (MSG_DONTWAIT, looping until EAGAIN per spec.md §5), parses
// complete frames out of the accumulated buffer, and dispatches each.
func (a *Agent) HandleReadable() error {
	buf := make([]byte, 64*1024)
	oob := make([]byte, unix.CmsgSpace(4*maxFDsPerMessage))
	for {
		n, oobn, _, _, err := unix.Recvmsg(a.fd, buf, oob, unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return err
		}
		if n == 0 {
			a.Close()
			return io.EOF
		}
		var fds []int
		if oobn > 0 {
			fds, err = parseFds(oob[:oobn])
			if err != nil {
				cubed.Logger().Warn("clientagent: bad ancillary data", "err", err)
			}
		}
		a.readBuf = append(a.readBuf, buf[:n]...)
		if err := a.drainFrames(fds); err != nil {
			return err
		}
	}
}

// drainFrames parses every complete frame currently sitting in readBuf.
// fds (from the single recvmsg call that grew readBuf) are handed to the
// first sub-command that consumes one; a client sends at most one
// fd-carrying sub-command per datagram in practice.
func (a *Agent) drainFrames(fds []int) error {
	for {
		if len(a.readBuf) < 8 {
			return nil
		}
		total := binary.LittleEndian.Uint64(a.readBuf)
		frameSize := 8 + int(total)
		if frameSize < 8 || len(a.readBuf) < frameSize {
			return nil
		}
		frame := a.readBuf[8:frameSize]
		a.readBuf = append([]byte(nil), a.readBuf[frameSize:]...)

		if err := a.dispatchFrame(frame, fds); err != nil {
			cubed.Logger().Debug("clientagent: dispatch failed", "client", a.id, "err", err)
		}
		fds = nil
	}
}

func (a *Agent) dispatchFrame(frame []byte, fds []int) error {
	if len(frame) < 4 {
		return fmt.Errorf("clientagent: frame too short")
	}
	body := frame[4:]
	tag, payload, _, err := decodeTLV(body)
	if err != nil {
		return err
	}
	if tag != TagWin {
		return fmt.Errorf("clientagent: expected CB_TAG_WIN, got %d", tag)
	}

	rest := payload
	for len(rest) > 0 {
		subTag, subPayload, next, err := decodeTLV(rest)
		if err != nil {
			return err
		}
		rest = next
		if err := a.dispatchSub(subTag, subPayload, fds); err != nil {
			cubed.Logger().Debug("clientagent: sub-command failed", "client", a.id, "tag", subTag, "err", err)
		}
	}
	return nil
}

func (a *Agent) dispatchSub(tag uint32, payload []byte, fds []int) error {
	switch tag {
	case TagCreateSurface:
		req, err := decodeCreateSurface(payload)
		if err != nil {
			return err
		}
		id, err := a.cb.CreateSurface(a.id, req.Width, req.Height)
		if err != nil {
			return err
		}
		a.enqueue(FlagCreateSurface, TagResult, encodeResult(id))
		return nil

	case TagCreateView:
		req, err := decodeCreateView(payload)
		if err != nil {
			return err
		}
		id, err := a.cb.CreateView(a.id, req.SurfaceID, req.area(), int(req.Zpos), req.DirectShow)
		if err != nil {
			return err
		}
		a.enqueue(FlagCreateView, TagResult, encodeResult(id))
		return nil

	case TagCreateBO:
		req, err := decodeCreateBO(payload)
		if err != nil {
			return err
		}
		var id uint64
		switch req.Kind {
		case BOKindSHM:
			if len(fds) < 1 {
				return fmt.Errorf("clientagent: create-bo SHM with no fd")
			}
			id, err = a.cb.ImportSHM(a.id, req.SurfaceID, int32(fds[0]), req.Info)
		case BOKindDMABUF:
			var planeFds [buffer.MaxPlanes]int32
			for i := range planeFds {
				planeFds[i] = -1
			}
			for i := 0; i < req.Info.Planes && i < len(fds); i++ {
				planeFds[i] = int32(fds[i])
			}
			id, err = a.cb.ImportDMABUF(a.id, req.SurfaceID, planeFds, req.Info)
		default:
			return fmt.Errorf("clientagent: unknown bo kind %d", req.Kind)
		}
		if err != nil {
			return err
		}
		a.enqueue(FlagCreateBO, TagResult, encodeResult(id))
		return nil

	case TagCommit:
		req, err := decodeCommit(payload)
		if err != nil {
			return err
		}
		return a.cb.Commit(a.id, req.SurfaceID)

	case TagShell:
		title, appID := decodeShellStrings(payload)
		cubed.Logger().Debug("clientagent: shell", "client", a.id,
			"title", norm.NFC.String(title), "app_id", norm.NFC.String(appID))
		return nil

	default:
		return fmt.Errorf("clientagent: unhandled sub-command tag %d", tag)
	}
}

// enqueue frames one outbound sub-command and appends it to the pending
// write buffer; HandleWritable drains it non-blockingly.
func (a *Agent) enqueue(flag, tag uint32, payload []byte) {
	frame := encodeFrame(flag, []uint32{tag}, [][]byte{payload})
	a.writeBuf = append(a.writeBuf, frame...)
}

// HandleWritable drains as much of the pending write buffer as the socket
// currently accepts, looping on EAGAIN per spec.md §5.
func (a *Agent) HandleWritable() error {
	for len(a.writeBuf) > 0 {
		n, err := unix.Write(a.fd, a.writeBuf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return err
		}
		a.writeBuf = a.writeBuf[n:]
	}
	return nil
}

// HasPendingWrites reports whether the event loop should keep EPOLLOUT
// armed for this connection.
func (a *Agent) HasPendingWrites() bool { return len(a.writeBuf) > 0 }

// SendBufferComplete implements view.ClientAgent: COMMIT_OK, echoing the
// completed buffer's id (spec.md §6).
func (a *Agent) SendBufferComplete(bufID uint64) {
	a.enqueue(FlagBOComplete, TagBOComplete, encodeU64(bufID))
}

// SendBufferFlipped implements view.ClientAgent: bo_flipped, naming the
// output and page-flip timestamp (spec.md §4.1).
func (a *Agent) SendBufferFlipped(bufID uint64, outputIndex int, sec, usec uint32) {
	payload := make([]byte, 8+4+4+4)
	binary.LittleEndian.PutUint64(payload[0:8], bufID)
	binary.LittleEndian.PutUint32(payload[8:12], uint32(outputIndex))
	binary.LittleEndian.PutUint32(payload[12:16], sec)
	binary.LittleEndian.PutUint32(payload[16:20], usec)
	a.enqueue(FlagBOFlipped, TagBOFlipped, payload)
}

// SendBufferReplace implements view.ClientAgent: COMMIT_REPLACE, sent
// alongside a normal COMMIT_OK when the replace-pending protocol discards
// an unflipped predecessor (spec.md §4.3 step 6).
func (a *Agent) SendBufferReplace(bufID uint64) {
	a.enqueue(FlagCommitReplace, TagCommitReplace, encodeU64(bufID))
}

// SendInput implements view.ClientAgent: forwards one classified GUI input
// message to the top view's client (spec.md §4.7).
func (a *Agent) SendInput(kind int, dx, dy int32, code uint16, pressed bool) {
	payload := make([]byte, 4+4+4+2+1)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(kind))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(dx))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(dy))
	binary.LittleEndian.PutUint16(payload[12:14], code)
	if pressed {
		payload[14] = 1
	}
	a.enqueue(FlagInput, TagInput, payload)
}

// SendHotplug notifies the client of a connector transition (spec.md §4.6).
func (a *Agent) SendHotplug(pipeIndex int, connected bool) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(pipeIndex))
	if connected {
		binary.LittleEndian.PutUint32(payload[4:8], 1)
	}
	a.enqueue(FlagHotplug, TagHotplug, payload)
}

// parseFds extracts every file descriptor carried as SCM_RIGHTS ancillary
// data in a recvmsg control message buffer.
func parseFds(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

// decodeShellStrings reads the shell sub-command's two length-prefixed
// strings (title, app-id); payload layout beyond these two fields is
// named-contract-only per the Non-goals.
func decodeShellStrings(p []byte) (title, appID string) {
	if len(p) < 4 {
		return "", ""
	}
	n := binary.LittleEndian.Uint32(p[0:4])
	off := 4
	if uint32(len(p)-off) < n {
		return "", ""
	}
	title = string(p[off : off+int(n)])
	off += int(n)
	if len(p)-off < 4 {
		return title, ""
	}
	n2 := binary.LittleEndian.Uint32(p[off : off+4])
	off += 4
	if uint32(len(p)-off) < n2 {
		return title, ""
	}
	appID = string(p[off : off+int(n2)])
	return title, appID
}
