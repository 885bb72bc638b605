package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

// StoreClient talks to the remote storage node's REST API: listing the
// studies it knows and fetching the metadata needed to drive a pull.
// It holds no local state.
type StoreClient struct {
	baseURL    string
	httpClient *HTTPClient
	logger     *lib.Logger
}

// NewStoreClient creates a client for one storage node
func NewStoreClient(baseURL string, httpClient *HTTPClient, logger *lib.Logger) *StoreClient {
	return &StoreClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// studyDetails mirrors the node's study resource. Field names match the
// JSON keys of the REST API.
type studyDetails struct {
	ID       string `json:"ID"`
	MainTags struct {
		StudyInstanceUID string `json:"StudyInstanceUID,omitempty"`
		StudyDate        string `json:"StudyDate,omitempty"`
		AccessionNumber  string `json:"AccessionNumber,omitempty"`
	} `json:"MainDicomTags"`
	PatientMainTags struct {
		PatientID   string `json:"PatientID,omitempty"`
		PatientName string `json:"PatientName,omitempty"`
	} `json:"PatientMainDicomTags"`
}

// ListStudies returns the identifiers of every study the node currently
// knows. Connection failures and transient statuses surface as
// remote-unavailable errors so the poll loop just waits for the next tick.
func (c *StoreClient) ListStudies(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/studies", c.baseURL)

	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return nil, lib.ErrRemoteUnavailable(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, lib.ErrRemoteStatus(url, resp.StatusCode)
	}

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, lib.WrapError(lib.CategoryRemoteUnavailable,
			"malformed study list from remote node", err,
			"The remote node may be a different service or version")
	}

	return ids, nil
}

// GetStudy fetches the metadata for one study. A 404 means the study
// vanished between listing and fetching, which is a legitimate outcome:
// the entry node may have already deleted its copy.
func (c *StoreClient) GetStudy(ctx context.Context, studyID string) (models.StudyRef, error) {
	url := fmt.Sprintf("%s/studies/%s", c.baseURL, studyID)

	resp, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return models.StudyRef{}, lib.ErrRemoteUnavailable(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return models.StudyRef{}, lib.ErrRemoteStatus(url, resp.StatusCode)
	}

	var details studyDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return models.StudyRef{}, lib.WrapError(lib.CategoryRemoteUnavailable,
			fmt.Sprintf("malformed study details for %s", studyID), err,
			"The remote node may be a different service or version")
	}

	if details.MainTags.StudyInstanceUID == "" {
		return models.StudyRef{}, lib.ErrTransferRejected(studyID,
			"study metadata carries no StudyInstanceUID")
	}

	ref := models.StudyRef{
		ID:              studyID,
		StudyUID:        details.MainTags.StudyInstanceUID,
		PatientID:       details.PatientMainTags.PatientID,
		PatientName:     details.PatientMainTags.PatientName,
		StudyDate:       details.MainTags.StudyDate,
		AccessionNumber: details.MainTags.AccessionNumber,
	}
	return ref, nil
}
