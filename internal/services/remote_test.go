package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

func testHTTPClient(maxAttempts int) *HTTPClient {
	return NewHTTPClient(5*time.Second, models.RetryConfig{
		MaxAttempts:      maxAttempts,
		InitialBackoffMs: 10,
		MaxBackoffMs:     50,
	}, quietTestLogger())
}

func TestStoreClient_ListStudies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/studies", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["study-a", "study-b", "study-c"]`))
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(1), quietTestLogger())
	ids, err := client.ListStudies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"study-a", "study-b", "study-c"}, ids)
}

func TestStoreClient_ListStudiesEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(1), quietTestLogger())
	ids, err := client.ListStudies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStoreClient_ListStudiesRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`["study-a"]`))
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(3), quietTestLogger())
	ids, err := client.ListStudies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"study-a"}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStoreClient_ListStudiesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(2), quietTestLogger())
	_, err := client.ListStudies(context.Background())
	require.Error(t, err)
	assert.True(t, lib.HasCategory(err, lib.CategoryRemoteUnavailable))
}

func TestStoreClient_ListStudiesConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewStoreClient(url, testHTTPClient(1), quietTestLogger())
	_, err := client.ListStudies(context.Background())
	require.Error(t, err)
	assert.True(t, lib.HasCategory(err, lib.CategoryRemoteUnavailable))
}

func TestStoreClient_ListStudiesMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "a list"}`))
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(1), quietTestLogger())
	_, err := client.ListStudies(context.Background())
	require.Error(t, err)
	assert.True(t, lib.HasCategory(err, lib.CategoryRemoteUnavailable))
}

func TestStoreClient_GetStudy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/studies/study-a", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ID": "study-a",
			"MainDicomTags": {
				"StudyInstanceUID": "1.2.840.99.1",
				"StudyDate": "20260812",
				"AccessionNumber": "ACC-42"
			},
			"PatientMainDicomTags": {
				"PatientID": "PAT-7",
				"PatientName": "DOE^JANE"
			}
		}`))
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(1), quietTestLogger())
	ref, err := client.GetStudy(context.Background(), "study-a")
	require.NoError(t, err)

	assert.Equal(t, "study-a", ref.ID)
	assert.Equal(t, "1.2.840.99.1", ref.StudyUID)
	assert.Equal(t, "PAT-7", ref.PatientID)
	assert.Equal(t, "DOE^JANE", ref.PatientName)
	assert.Equal(t, "20260812", ref.StudyDate)
	assert.Equal(t, "ACC-42", ref.AccessionNumber)
}

func TestStoreClient_GetStudyVanished(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(3), quietTestLogger())
	_, err := client.GetStudy(context.Background(), "study-gone")
	require.Error(t, err)
	assert.True(t, lib.HasCategory(err, lib.CategoryTransferRejected))

	classified := lib.ClassifyError(err)
	assert.False(t, classified.IsRetryable, "a vanished study is not retried")
}

func TestStoreClient_GetStudyWithoutStudyUID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ID": "study-a", "MainDicomTags": {}, "PatientMainDicomTags": {}}`))
	}))
	defer server.Close()

	client := NewStoreClient(server.URL, testHTTPClient(1), quietTestLogger())
	_, err := client.GetStudy(context.Background(), "study-a")
	require.Error(t, err)
	assert.True(t, lib.HasCategory(err, lib.CategoryTransferRejected))
	assert.Contains(t, err.Error(), "StudyInstanceUID")
}
