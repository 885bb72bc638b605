package dimse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/trobanga/siphon/internal/lib"
)

// MoveProgress reports sub-operation counters from a pending move response
type MoveProgress struct {
	Remaining int
	Completed int
	Failed    int
	Warnings  int
}

// MoveResult is the remote's final word on a move operation
type MoveResult struct {
	Status    uint16
	Completed int
	Failed    int
	Warnings  int
}

// MoveSCU asks a remote node to push a study to a receiving endpoint.
// The remote initiates separate store associations toward the destination;
// this client only observes the move's progress and final status.
type MoveSCU struct {
	remoteAddr string
	callingAET string
	calledAET  string
	logger     *lib.Logger

	// DialTimeout bounds the TCP connect. ResponseTimeout bounds the
	// silence between two consecutive move responses; a healthy peer
	// sends a pending response per pushed instance.
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
}

// NewMoveSCU creates a move client for one remote node
func NewMoveSCU(remoteAddr, calledAET, callingAET string, logger *lib.Logger) *MoveSCU {
	return &MoveSCU{
		remoteAddr:      remoteAddr,
		callingAET:      callingAET,
		calledAET:       calledAET,
		logger:          logger,
		DialTimeout:     10 * time.Second,
		ResponseTimeout: 60 * time.Second,
	}
}

// MoveStudy requests that the remote push every instance of studyUID to
// destination, then blocks until the remote's final response. Pending
// responses are forwarded through onProgress when non-nil.
func (s *MoveSCU) MoveStudy(ctx context.Context, studyUID string, destination string, onProgress func(MoveProgress)) (*MoveResult, error) {
	if err := lib.ValidateUID(studyUID); err != nil {
		return nil, lib.ErrTransferRejected(studyUID, fmt.Sprintf("invalid study identifier: %v", err))
	}

	dialer := net.Dialer{Timeout: s.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.remoteAddr)
	if err != nil {
		return nil, lib.ErrRemoteUnavailable(s.remoteAddr, err)
	}
	defer func() { _ = conn.Close() }()

	// A cancelled context aborts any blocking read or write immediately
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := s.associate(conn); err != nil {
		return nil, err
	}

	if err := writePData(conn, true, buildCMoveRQ(1, destination)); err != nil {
		return nil, lib.ErrRemoteUnavailable(s.remoteAddr, err)
	}
	if err := writePData(conn, false, buildMoveIdentifier(studyUID)); err != nil {
		return nil, lib.ErrRemoteUnavailable(s.remoteAddr, err)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.ResponseTimeout))

		flags, data, err := readPData(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("move aborted: %w", ctx.Err())
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, lib.ErrTransferTimeout(studyUID,
					fmt.Sprintf("no move response within %s", s.ResponseTimeout))
			}
			return nil, lib.ErrRemoteUnavailable(s.remoteAddr, err)
		}

		if flags&pdataFlagCommand == 0 {
			return nil, lib.ErrProtocol("unexpected data set during move", nil)
		}

		msg, err := ParseMessage(data)
		if err != nil {
			return nil, lib.ErrProtocol("malformed move response", err)
		}
		if msg.CommandField != CommandCMoveRSP {
			return nil, lib.ErrProtocol(
				fmt.Sprintf("expected move response, got command 0x%04X", msg.CommandField), nil)
		}

		if IsPending(msg.Status) {
			s.logger.Debug("Move progress",
				"study_uid", studyUID,
				"remaining", msg.Remaining,
				"completed", msg.Completed,
				"failed", msg.Failed,
			)
			if onProgress != nil {
				onProgress(MoveProgress{
					Remaining: int(msg.Remaining),
					Completed: int(msg.Completed),
					Failed:    int(msg.Failed),
					Warnings:  int(msg.Warnings),
				})
			}
			continue
		}

		s.release(conn)

		return &MoveResult{
			Status:    msg.Status,
			Completed: int(msg.Completed),
			Failed:    int(msg.Failed),
			Warnings:  int(msg.Warnings),
		}, nil
	}
}

// associate performs the opening handshake on a fresh connection
func (s *MoveSCU) associate(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(s.DialTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if err := writePDU(conn, pduAssocRQ, associationPayload(s.calledAET, s.callingAET)); err != nil {
		return lib.ErrRemoteUnavailable(s.remoteAddr, err)
	}

	typ, payload, err := readPDU(conn)
	if err != nil {
		return lib.ErrRemoteUnavailable(s.remoteAddr, err)
	}

	switch typ {
	case pduAssocAC:
		s.logger.Debug("Association established", "peer", s.remoteAddr, "called_aet", s.calledAET)
		return nil
	case pduAssocRJ:
		reason := byte(0)
		if len(payload) > 0 {
			reason = payload[0]
		}
		return lib.ErrAssociationRejected(s.remoteAddr, rejectReasonText(reason))
	default:
		return lib.ErrProtocol(fmt.Sprintf("unexpected pdu type 0x%02X during association", typ), nil)
	}
}

// release ends the association politely; failures here are harmless
func (s *MoveSCU) release(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := writePDU(conn, pduReleaseRQ, nil); err != nil {
		return
	}
	_, _, _ = readPDU(conn) // release response, best effort
}

// StoreSCU pushes encoded instance data sets to a receiving endpoint over
// a single association. This is the sending half of a move as the remote
// node performs it; the in-process test node drives it directly.
type StoreSCU struct {
	callingAET string
	calledAET  string
	logger     *lib.Logger

	DialTimeout     time.Duration
	ResponseTimeout time.Duration
}

// NewStoreSCU creates a store client
func NewStoreSCU(calledAET, callingAET string, logger *lib.Logger) *StoreSCU {
	return &StoreSCU{
		callingAET:      callingAET,
		calledAET:       calledAET,
		logger:          logger,
		DialTimeout:     10 * time.Second,
		ResponseTimeout: 30 * time.Second,
	}
}

// StoreDatasets sends each data set as one store operation and reports how
// many the peer refused. A broken association fails the remainder.
func (s *StoreSCU) StoreDatasets(ctx context.Context, addr string, datasets [][]byte) (failed int, err error) {
	dialer := net.Dialer{Timeout: s.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return len(datasets), lib.ErrRemoteUnavailable(addr, err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(s.DialTimeout))
	if err := writePDU(conn, pduAssocRQ, associationPayload(s.calledAET, s.callingAET)); err != nil {
		return len(datasets), lib.ErrRemoteUnavailable(addr, err)
	}
	typ, payload, err := readPDU(conn)
	if err != nil {
		return len(datasets), lib.ErrRemoteUnavailable(addr, err)
	}
	if typ == pduAssocRJ {
		reason := byte(0)
		if len(payload) > 0 {
			reason = payload[0]
		}
		return len(datasets), lib.ErrAssociationRejected(addr, rejectReasonText(reason))
	}
	if typ != pduAssocAC {
		return len(datasets), lib.ErrProtocol(fmt.Sprintf("unexpected pdu type 0x%02X during association", typ), nil)
	}
	_ = conn.SetDeadline(time.Time{})

	for i, data := range datasets {
		ds, perr := DecodeDataset(data)
		if perr != nil {
			failed++
			continue
		}

		sopUID := ds.String(tag.SOPInstanceUID)
		if sopUID == "" {
			failed++
			continue
		}
		sopClass := ds.String(tag.SOPClassUID)
		if sopClass == "" {
			sopClass = sopClassSecondaryCapture
		}

		msgID := uint16(i + 1)
		if err := writePData(conn, true, buildCStoreRQ(msgID, sopClass, sopUID)); err != nil {
			return failed + (len(datasets) - i), lib.ErrRemoteUnavailable(addr, err)
		}
		if err := writePData(conn, false, data); err != nil {
			return failed + (len(datasets) - i), lib.ErrRemoteUnavailable(addr, err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.ResponseTimeout))
		flags, rsp, err := readPData(conn)
		if err != nil {
			return failed + (len(datasets) - i), lib.ErrRemoteUnavailable(addr, err)
		}
		if flags&pdataFlagCommand == 0 {
			return failed + (len(datasets) - i), lib.ErrProtocol("expected store response command set", nil)
		}

		msg, err := ParseMessage(rsp)
		if err != nil {
			return failed + (len(datasets) - i), lib.ErrProtocol("malformed store response", err)
		}
		if msg.Status != StatusSuccess {
			s.logger.Warn("Store refused", "sop_uid", sopUID, "status", StatusText(msg.Status))
			failed++
		}
	}

	s.releaseStore(conn)
	return failed, nil
}

func (s *StoreSCU) releaseStore(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := writePDU(conn, pduReleaseRQ, nil); err != nil {
		return
	}
	_, _, _ = readPDU(conn)
}
