// Package dimsetest provides an in-process stand-in for a remote storage
// node: a small REST API for discovery plus a move-capable peer that
// pushes instances back at the requested destination. Tests drive failure
// modes through its setters.
package dimsetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/trobanga/siphon/internal/dimse"
	"github.com/trobanga/siphon/internal/lib"
)

// StudyFixture is one study held by the test node
type StudyFixture struct {
	ID              string
	StudyUID        string
	PatientID       string
	PatientName     string
	StudyDate       string
	AccessionNumber string
	Datasets        [][]byte
	SOPUIDs         []string
}

// Remote is the in-process storage node
type Remote struct {
	AETitle string

	mu          sync.Mutex
	studies     map[string]*StudyFixture // by store ID
	byUID       map[string]*StudyFixture
	unavailable bool
	rejectMoves bool
	partialFail int
	reverse     bool
	straggler   time.Duration
	moveCount   int

	httpSrv *httptest.Server
	scp     *dimse.SCP
	logger  *lib.Logger
	wg      sync.WaitGroup
}

// NewRemote starts the REST server and the move listener on loopback ports
func NewRemote() (*Remote, error) {
	r := &Remote{
		AETitle: "ORTHANC2",
		studies: make(map[string]*StudyFixture),
		byUID:   make(map[string]*StudyFixture),
		logger:  lib.NewLogger(lib.LogLevelError),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/studies", r.handleList)
	mux.HandleFunc("/studies/", r.handleDetails)
	r.httpSrv = httptest.NewServer(mux)

	r.scp = dimse.NewSCP(r.AETitle, nil, r.handleMove, r.logger)
	if err := r.scp.Start("127.0.0.1:0"); err != nil {
		r.httpSrv.Close()
		return nil, err
	}

	return r, nil
}

// APIURL returns the REST base URL
func (r *Remote) APIURL() string {
	return r.httpSrv.URL
}

// DIMSEAddr returns the move listener address
func (r *Remote) DIMSEAddr() string {
	return r.scp.Addr()
}

// Close shuts both listeners down and waits for late pushes
func (r *Remote) Close() {
	r.httpSrv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.scp.Shutdown(ctx)
	r.wg.Wait()
}

// AddStudy registers a study with count generated instances and returns
// its fixture
func (r *Remote) AddStudy(id, patientID, studyUID string, count int) *StudyFixture {
	fix := &StudyFixture{
		ID:          id,
		StudyUID:    studyUID,
		PatientID:   patientID,
		PatientName: "DOE^JANE",
		StudyDate:   "20250115",
	}

	seriesUID := studyUID + ".1"
	for k := 1; k <= count; k++ {
		sopUID := fmt.Sprintf("%s.1.%d", studyUID, k)
		payload := []byte(fmt.Sprintf("pixels-%s-%d", id, k))
		fix.Datasets = append(fix.Datasets, dimse.BuildInstanceDataset(patientID, studyUID, seriesUID, sopUID, payload))
		fix.SOPUIDs = append(fix.SOPUIDs, sopUID)
	}

	r.mu.Lock()
	r.studies[id] = fix
	r.byUID[studyUID] = fix
	r.mu.Unlock()
	return fix
}

// RemoveStudy deletes a study from the node
func (r *Remote) RemoveStudy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fix, ok := r.studies[id]; ok {
		delete(r.byUID, fix.StudyUID)
		delete(r.studies, id)
	}
}

// SetUnavailable makes the REST API answer 503 until cleared
func (r *Remote) SetUnavailable(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = v
}

// SetRejectMoves makes every move finish immediately with a failure status
func (r *Remote) SetRejectMoves(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejectMoves = v
}

// SetPartialFail makes the node skip n instances per move and report them
// as failed sub-operations
func (r *Remote) SetPartialFail(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partialFail = n
}

// SetReverseOrder pushes instances in reverse of their natural order
func (r *Remote) SetReverseOrder(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reverse = v
}

// SetStragglerDelay holds back the last instance of each move and delivers
// it on a separate association after the final response, emulating a store
// that outlives the move
func (r *Remote) SetStragglerDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.straggler = d
}

// MoveCount reports how many move requests the node has served
func (r *Remote) MoveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.moveCount
}

func (r *Remote) handleList(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unavailable {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ids := make([]string, 0, len(r.studies))
	for id := range r.studies {
		ids = append(ids, id)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ids)
}

func (r *Remote) handleDetails(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unavailable {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	id := req.URL.Path[len("/studies/"):]
	fix, ok := r.studies[id]
	if !ok {
		http.NotFound(w, req)
		return
	}

	details := map[string]interface{}{
		"ID": fix.ID,
		"MainDicomTags": map[string]string{
			"StudyInstanceUID": fix.StudyUID,
			"StudyDate":        fix.StudyDate,
			"AccessionNumber":  fix.AccessionNumber,
		},
		"PatientMainDicomTags": map[string]string{
			"PatientID":   fix.PatientID,
			"PatientName": fix.PatientName,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(details)
}

// handleMove serves one move request: it pushes the study's instances to
// the destination over a fresh store association, then reports the result
func (r *Remote) handleMove(req dimse.MoveRequest, rsp dimse.MoveResponder) error {
	r.mu.Lock()
	r.moveCount++
	reject := r.rejectMoves
	skip := r.partialFail
	reverse := r.reverse
	straggler := r.straggler
	fix := r.byUID[req.StudyUID]
	r.mu.Unlock()

	if reject {
		return rsp.Final(dimse.StatusUnableToProcess, 0, 0, 0)
	}

	// An unknown study matches nothing: success with zero sub-operations
	if fix == nil {
		return rsp.Final(dimse.StatusSuccess, 0, 0, 0)
	}

	destAET, destAddr, err := dimse.ParseDestination(req.Destination)
	if err != nil {
		return rsp.Final(dimse.StatusMoveDestinationUnknown, 0, len(fix.Datasets), 0)
	}

	datasets := make([][]byte, len(fix.Datasets))
	copy(datasets, fix.Datasets)
	if reverse {
		for i, j := 0, len(datasets)-1; i < j; i, j = i+1, j-1 {
			datasets[i], datasets[j] = datasets[j], datasets[i]
		}
	}

	var held [][]byte
	if straggler > 0 && len(datasets) > 1 {
		held = datasets[len(datasets)-1:]
		datasets = datasets[:len(datasets)-1]
	}

	if skip > len(datasets) {
		skip = len(datasets)
	}
	toSend := datasets[:len(datasets)-skip]
	total := len(fix.Datasets)

	if err := rsp.Pending(total, 0, 0, 0); err != nil {
		return err
	}

	scu := dimse.NewStoreSCU(destAET, r.AETitle, r.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refused, err := scu.StoreDatasets(ctx, destAddr, toSend)
	if err != nil {
		return rsp.Final(dimse.StatusMoveDestinationUnknown, 0, total, 0)
	}

	failed := refused + skip
	completed := total - failed

	if held != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			time.Sleep(straggler)
			lateCtx, lateCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer lateCancel()
			lateSCU := dimse.NewStoreSCU(destAET, r.AETitle, r.logger)
			_, _ = lateSCU.StoreDatasets(lateCtx, destAddr, held)
		}()
	}

	status := dimse.StatusSuccess
	if failed > 0 {
		status = dimse.StatusUnableToProcess
	}
	return rsp.Final(status, completed, failed, 0)
}
