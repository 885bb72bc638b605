package dimse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

// StoreHandler consumes one received instance. A returned error tells the
// sender the instance could not be stored; the association continues.
type StoreHandler func(inst models.Instance) error

// MoveRequest describes one move operation received by an SCP
type MoveRequest struct {
	StudyUID    string
	Destination string
	CallingAET  string
}

// MoveResponder streams progress for an in-flight move and finishes it.
// Pending may be called any number of times before Final.
type MoveResponder interface {
	Pending(remaining, completed, failed, warnings int) error
	Final(status uint16, completed, failed, warnings int) error
}

// MoveHandler performs one move operation, reporting through the responder.
// It must call Final exactly once.
type MoveHandler func(req MoveRequest, rsp MoveResponder) error

// SCP is a listening peer. The receiving endpoint runs one with only a
// store handler; the in-process test node runs one with only a move
// handler. Requests without a matching handler abort the association.
type SCP struct {
	aeTitle      string
	storeHandler StoreHandler
	moveHandler  MoveHandler
	logger       *lib.Logger

	// AssociationIdleTimeout bounds the wait for the next request on an
	// open association before it is dropped.
	AssociationIdleTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewSCP creates a peer server. Either handler may be nil.
func NewSCP(aeTitle string, storeHandler StoreHandler, moveHandler MoveHandler, logger *lib.Logger) *SCP {
	return &SCP{
		aeTitle:                aeTitle,
		storeHandler:           storeHandler,
		moveHandler:            moveHandler,
		logger:                 logger,
		AssociationIdleTimeout: 2 * time.Minute,
		conns:                  make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting associations in the
// background. The actual address is available from Addr afterwards, which
// matters when binding port 0.
func (s *SCP) Start(bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return lib.WrapError(lib.CategoryConfiguration,
			fmt.Sprintf("cannot listen on %s", bindAddr), err,
			"Check that the port is free and the address is valid")
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Endpoint listening", "addr", ln.Addr().String(), "ae_title", s.aeTitle)

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address
func (s *SCP) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting new associations and waits for open ones to
// finish. Associations still open when the context expires are dropped.
func (s *SCP) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *SCP) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.serveAssociation(conn)
		}()
	}
}

// serveAssociation drives one association from handshake to release
func (s *SCP) serveAssociation(conn net.Conn) {
	peer := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(s.AssociationIdleTimeout))
	typ, payload, err := readPDU(conn)
	if err != nil {
		s.logger.Debug("Association dropped before handshake", "peer", peer, "error", err)
		return
	}
	if typ != pduAssocRQ {
		_ = writePDU(conn, pduAbort, []byte{0x00})
		return
	}

	calledAET, callingAET, err := parseAssociationPayload(payload)
	if err != nil {
		_ = writePDU(conn, pduAbort, []byte{0x00})
		return
	}

	if calledAET != s.aeTitle {
		s.logger.Warn("Rejected association for unknown AE title",
			"peer", peer, "called_aet", calledAET)
		_ = writePDU(conn, pduAssocRJ, []byte{rejectReasonCalledAEUnknown})
		return
	}

	if err := writePDU(conn, pduAssocAC, payload); err != nil {
		return
	}
	s.logger.Debug("Association accepted", "peer", peer, "calling_aet", callingAET)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.AssociationIdleTimeout))
		typ, payload, err := readPDU(conn)
		if err != nil {
			s.logger.Debug("Association ended", "peer", peer, "error", err)
			return
		}

		switch typ {
		case pduPDataTF:
			if len(payload) < 1 || payload[0]&pdataFlagCommand == 0 {
				_ = writePDU(conn, pduAbort, []byte{0x00})
				return
			}
			if err := s.handleCommand(conn, payload[1:], callingAET); err != nil {
				s.logger.Warn("Association aborted", "peer", peer, "error", err)
				_ = writePDU(conn, pduAbort, []byte{0x00})
				return
			}
		case pduReleaseRQ:
			_ = writePDU(conn, pduReleaseRP, nil)
			s.logger.Debug("Association released", "peer", peer)
			return
		case pduAbort:
			s.logger.Debug("Association aborted by peer", "peer", peer)
			return
		default:
			_ = writePDU(conn, pduAbort, []byte{0x00})
			return
		}
	}
}

// handleCommand dispatches one command set received on an open association
func (s *SCP) handleCommand(conn net.Conn, commandData []byte, callingAET string) error {
	msg, err := ParseMessage(commandData)
	if err != nil {
		return err
	}

	switch msg.CommandField {
	case CommandCStoreRQ:
		return s.handleStore(conn, msg)
	case CommandCMoveRQ:
		return s.handleMove(conn, msg, callingAET)
	default:
		return fmt.Errorf("unsupported command 0x%04X", msg.CommandField)
	}
}

func (s *SCP) handleStore(conn net.Conn, msg *Message) error {
	if s.storeHandler == nil {
		return fmt.Errorf("store requests not supported here")
	}
	if !msg.HasDataSet {
		return fmt.Errorf("store request without data set")
	}

	flags, data, err := readPData(conn)
	if err != nil {
		return fmt.Errorf("read store data set: %w", err)
	}
	if flags&pdataFlagCommand != 0 {
		return fmt.Errorf("expected data set, got command set")
	}

	status := StatusSuccess
	inst, err := ParseInstance(data)
	if err != nil {
		s.logger.Warn("Discarding malformed instance", "error", err)
		status = StatusUnableToProcess
	} else if err := s.storeHandler(inst); err != nil {
		s.logger.Warn("Handler refused instance", "sop_uid", inst.SOPUID, "error", err)
		status = StatusUnableToProcess
	}

	return writePData(conn, true, buildCStoreRSP(msg.MessageID, status, msg.AffectedSOPInstance))
}

func (s *SCP) handleMove(conn net.Conn, msg *Message, callingAET string) error {
	if s.moveHandler == nil {
		return fmt.Errorf("move requests not supported here")
	}
	if !msg.HasDataSet {
		return fmt.Errorf("move request without identifier data set")
	}

	flags, data, err := readPData(conn)
	if err != nil {
		return fmt.Errorf("read move identifier: %w", err)
	}
	if flags&pdataFlagCommand != 0 {
		return fmt.Errorf("expected identifier data set, got command set")
	}

	studyUID, err := parseMoveIdentifier(data)
	if err != nil {
		return err
	}

	req := MoveRequest{
		StudyUID:    studyUID,
		Destination: msg.MoveDestination,
		CallingAET:  callingAET,
	}
	return s.moveHandler(req, &moveResponder{conn: conn, respondingTo: msg.MessageID})
}

// moveResponder writes move responses back onto the move association
type moveResponder struct {
	conn         net.Conn
	respondingTo uint16
}

func (r *moveResponder) Pending(remaining, completed, failed, warnings int) error {
	return writePData(r.conn, true, buildCMoveRSP(r.respondingTo, StatusPending,
		uint16(remaining), uint16(completed), uint16(failed), uint16(warnings)))
}

func (r *moveResponder) Final(status uint16, completed, failed, warnings int) error {
	return writePData(r.conn, true, buildCMoveRSP(r.respondingTo, status,
		0, uint16(completed), uint16(failed), uint16(warnings)))
}
