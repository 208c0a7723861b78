package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"kycgate/internal/dedup"
	dedupmem "kycgate/internal/dedup/store/memory"
	"kycgate/internal/platform/logger"
	"kycgate/internal/ratelimit"
	"kycgate/internal/usage"
	usagemem "kycgate/internal/usage/store/memory"
	"kycgate/internal/verification"
	"kycgate/internal/verification/handler"
	"kycgate/internal/verifier"
)

// HandlerSuite exercises the HTTP surface against real in-memory
// components with a fake provider behind httptest.
type HandlerSuite struct {
	suite.Suite
	router   chi.Router
	provider *httptest.Server
	limiter  *ratelimit.TokenBucket
	queue    *verification.Queue
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"data":      map[string]any{"first_name": "Ada"},
			"reference": "prov-ref-1",
		})
	}))
	s.T().Cleanup(s.provider.Close)

	limiter, err := ratelimit.New(50, time.Minute, 10)
	s.Require().NoError(err)
	s.T().Cleanup(limiter.Destroy)
	s.limiter = limiter

	checker, err := dedup.NewChecker(dedupmem.New())
	s.Require().NoError(err)

	tracker, err := usage.NewTracker(usagemem.New())
	s.Require().NoError(err)

	queue, err := verification.New(verification.Config{DispatchTick: 5 * time.Millisecond}, verification.Deps{
		Limiter:  limiter,
		Verifier: verifier.NewHTTPVerifier("datapro", s.provider.URL, "test-key", 5*time.Second),
		Provider: "datapro",
		Checker:  checker,
		Tracker:  tracker,
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	})
	s.queue = queue

	h := handler.New(queue, limiter, tracker,
		handler.UsageBudget{MonthlyLimit: 100, AlertThreshold: 80},
		logger.New())

	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func enqueueBody(number, entryID string) map[string]any {
	return map[string]any{
		"identity_number": number,
		"identity_type":   "nin",
		"list_id":         "list-a",
		"entry_id":        entryID,
		"owner_id":        "broker-1",
	}
}

func (s *HandlerSuite) TestEnqueueThenStatus() {
	w := s.do(http.MethodPost, "/verifications", enqueueBody("12345678901", "entry-1"))
	s.Require().Equal(http.StatusAccepted, w.Code)

	var receipt struct {
		QueueID   string `json:"queue_id"`
		Position  int    `json:"position"`
		QueueSize int    `json:"queue_size"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &receipt))
	s.NotEmpty(receipt.QueueID)
	s.Equal(1, receipt.Position)

	var body string
	s.Require().Eventually(func() bool {
		w := s.do(http.MethodGet, "/verifications/"+receipt.QueueID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		body = w.Body.String()
		return strings.Contains(body, `"status":"completed"`)
	}, 3*time.Second, 10*time.Millisecond)

	s.Contains(body, `"identity_masked":"1234*******"`)
	s.NotContains(body, "12345678901", "raw identity number must not leave the API")
	s.Contains(body, `"provider_ref":"prov-ref-1"`)
}

func (s *HandlerSuite) TestEnqueueValidation() {
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing identity number", body: map[string]any{"identity_type": "nin", "list_id": "l", "entry_id": "e", "owner_id": "o"}},
		{name: "unknown identity type", body: enqueueBodyWith("identity_type", "passport")},
		{name: "wrong nin length", body: enqueueBodyWith("identity_number", "123")},
		{name: "missing owner", body: enqueueBodyWith("owner_id", "")},
	}
	for _, tc := range tests {
		s.Run(tc.name, func() {
			w := s.do(http.MethodPost, "/verifications", tc.body)
			s.Equal(http.StatusBadRequest, w.Code)
		})
	}
}

func enqueueBodyWith(key string, value any) map[string]any {
	body := enqueueBody("12345678901", "entry-1")
	body[key] = value
	return body
}

func (s *HandlerSuite) TestMalformedJSONRejected() {
	req := httptest.NewRequest(http.MethodPost, "/verifications", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestStatusUnknownIDReturns404() {
	w := s.do(http.MethodGet, "/verifications/does-not-exist", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerSuite) TestBatchEnqueue() {
	w := s.do(http.MethodPost, "/verifications/batch", map[string]any{
		"list_id":  "list-b",
		"owner_id": "broker-1",
		"entries": []map[string]any{
			{"entry_id": "e1", "identity_number": "11111111111", "identity_type": "nin"},
			{"entry_id": "e2", "identity_number": "22345678901", "identity_type": "bvn"},
		},
	})
	s.Require().Equal(http.StatusAccepted, w.Code)

	var resp struct {
		Accepted int `json:"accepted"`
		Receipts []struct {
			QueueID string `json:"queue_id"`
		} `json:"receipts"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(2, resp.Accepted)
	s.Len(resp.Receipts, 2)
}

func (s *HandlerSuite) TestOwnerItems() {
	w := s.do(http.MethodPost, "/verifications", enqueueBody("12345678901", "entry-1"))
	s.Require().Equal(http.StatusAccepted, w.Code)

	s.Require().Eventually(func() bool {
		w := s.do(http.MethodGet, "/owners/broker-1/verifications", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return len(resp.Items) == 1
	}, time.Second, 10*time.Millisecond)

	w = s.do(http.MethodGet, "/owners/broker-9/verifications", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"items":[]`)
}

func (s *HandlerSuite) TestQueueStats() {
	w := s.do(http.MethodGet, "/queue/stats", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var stats verification.Stats
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &stats))
	s.Equal(10, stats.MaxConcurrent)
	s.Equal(1000, stats.MaxQueueSize)
	s.True(stats.IsProcessing)
}

func (s *HandlerSuite) TestRateLimitStatusAndReset() {
	w := s.do(http.MethodGet, "/ratelimit", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var status ratelimit.Status
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &status))
	s.Equal(50, status.Capacity)

	w = s.do(http.MethodPost, "/ratelimit/reset", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &status))
	s.Equal(status.Capacity, status.AvailableTokens)
}

func (s *HandlerSuite) TestUsageEndpoint() {
	w := s.do(http.MethodPost, "/verifications", enqueueBody("12345678901", "entry-1"))
	s.Require().Equal(http.StatusAccepted, w.Code)

	s.Require().Eventually(func() bool {
		w := s.do(http.MethodGet, "/usage/datapro", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Monthly usage.Counter `json:"monthly"`
			Alert   usage.Alert   `json:"alert"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Monthly.TotalCalls == 1 &&
			resp.Monthly.CostAccrued == 50 &&
			resp.Alert.Level == usage.AlertNormal
	}, 3*time.Second, 10*time.Millisecond)
}
