package handler

import (
	"bytes"
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigillum/internal/platform/middleware"
	"sigillum/internal/proof/models"
	"sigillum/internal/transport/http/shared"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/sentinel"
	"sigillum/pkg/testutil"
)

var (
	handlerOwner = domain.OwnerAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	otherOwner   = domain.OwnerAddress("0x" + strings.Repeat("11", 20))
	handlerKey   = domain.RegistrationKey(strings.Repeat("4d", 32))
	handlerTx    = domain.TxHash("0x" + strings.Repeat("aa", 32))
)

// stubValidator maps fixed tokens to owners.
type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	switch token {
	case "valid-token":
		return &middleware.JWTClaims{Owner: handlerOwner, SessionID: "session-1"}, nil
	case "other-token":
		return &middleware.JWTClaims{Owner: otherOwner, SessionID: "session-2"}, nil
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown token")
}

// stubService returns canned results per operation.
type stubService struct {
	outcome models.RegistrationOutcome
	record  *models.ProofRecord
	state   models.PipelineState
	err     error

	gotRequest *models.RegistrationRequest
}

func (s *stubService) Register(_ context.Context, req models.RegistrationRequest) models.RegistrationOutcome {
	s.gotRequest = &req
	return s.outcome
}

func (s *stubService) Status(context.Context, domain.RegistrationKey) (models.PipelineState, error) {
	return s.state, s.err
}

func (s *stubService) Get(context.Context, domain.RegistrationKey) (*models.ProofRecord, error) {
	return s.record, s.err
}

func (s *stubService) ListByOwner(context.Context, domain.OwnerAddress) ([]*models.ProofRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.record == nil {
		return nil, nil
	}
	return []*models.ProofRecord{s.record}, nil
}

func newRouter(service Service) http.Handler {
	h := New(service, slog.New(slog.DiscardHandler), stubValidator{})
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// multipartRequest builds an authenticated registration request.
func multipartRequest(t *testing.T, fields map[string]string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if content != nil {
		part, err := writer.CreateFormFile("content", "document.pdf")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/proofs", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer valid-token")
	return req
}

func confirmedRecord() *models.ProofRecord {
	return &models.ProofRecord{
		Key:             handlerKey,
		Digest:          domain.Digest("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"),
		Owner:           handlerOwner,
		StorageLocator:  "https://storage.example/proofs/" + handlerKey.String(),
		StorageVerified: true,
		Metadata:        models.Metadata{Title: "deed", Visibility: models.VisibilityPublic},
		TxHash:          handlerTx,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
}

func TestRegisterEndpoint(t *testing.T) {
	testutil.Given(t, "an authenticated owner submitting a document", func(t *testing.T) {
		service := &stubService{outcome: models.RegistrationOutcome{
			Kind:   models.OutcomeSucceeded,
			Record: confirmedRecord(),
			TxHash: handlerTx,
		}}
		router := newRouter(service)

		testutil.When(t, "the pipeline confirms the registration", func(t *testing.T) {
			rr := testutil.DoRequest(router, multipartRequest(t, map[string]string{
				"title":      "deed",
				"category":   "legal",
				"visibility": "public",
			}, []byte("document body")))

			testutil.Then(t, "the response is 201 with the record and tx hash", func(t *testing.T) {
				require.Equal(t, http.StatusCreated, rr.Code)
				resp := testutil.UnmarshalResponse[outcomeResponse](t, rr)
				assert.Equal(t, "succeeded", resp.Outcome)
				assert.Equal(t, handlerTx.String(), resp.TxHash)
				require.NotNil(t, resp.Record)
				assert.Equal(t, handlerKey.String(), resp.Record.Key)

				require.NotNil(t, service.gotRequest)
				assert.Equal(t, []byte("document body"), service.gotRequest.Content)
				assert.Equal(t, "deed", service.gotRequest.Metadata.Title)
				assert.Equal(t, models.VisibilityPublic, service.gotRequest.Metadata.Visibility)
				assert.Equal(t, handlerOwner, service.gotRequest.Owner)
			})
		})
	})
}

func TestRegisterAwaitingConfirmationReturns202(t *testing.T) {
	service := &stubService{outcome: models.RegistrationOutcome{
		Kind:   models.OutcomeAwaitingConfirmation,
		TxHash: handlerTx,
	}}

	rr := testutil.DoRequest(newRouter(service), multipartRequest(t, map[string]string{"title": "deed"}, []byte("body")))

	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := testutil.UnmarshalResponse[outcomeResponse](t, rr)
	assert.Equal(t, "awaiting_confirmation", resp.Outcome)
	assert.Equal(t, handlerTx.String(), resp.TxHash)
	assert.Nil(t, resp.Record)
}

func TestRegisterCancelledReturns409(t *testing.T) {
	service := &stubService{outcome: models.RegistrationOutcome{
		Kind: models.OutcomeCancelled,
		Err:  dErrors.New(dErrors.CodeRejected, "signature request denied"),
	}}

	rr := testutil.DoRequest(newRouter(service), multipartRequest(t, map[string]string{"title": "deed"}, []byte("body")))

	require.Equal(t, http.StatusConflict, rr.Code)
	resp := testutil.UnmarshalResponse[outcomeResponse](t, rr)
	assert.Equal(t, "cancelled", resp.Outcome)
	assert.Contains(t, resp.Error, "denied")
}

func TestRegisterFailureMapsErrorCode(t *testing.T) {
	service := &stubService{outcome: models.RegistrationOutcome{
		Kind: models.OutcomeFailed,
		Err:  dErrors.New(dErrors.CodeInsufficientFunds, "balance too low"),
	}}

	rr := testutil.DoRequest(newRouter(service), multipartRequest(t, map[string]string{"title": "deed"}, []byte("body")))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := testutil.UnmarshalResponse[shared.ErrorResponse](t, rr)
	assert.Equal(t, string(dErrors.CodeInsufficientFunds), resp.Error.Code)
}

func TestRegisterRequiresAuth(t *testing.T) {
	service := &stubService{}
	req := multipartRequest(t, map[string]string{"title": "deed"}, []byte("body"))
	req.Header.Del("Authorization")

	rr := testutil.DoRequest(newRouter(service), req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, service.gotRequest)
}

func TestRegisterRejectsMissingContentPart(t *testing.T) {
	service := &stubService{}
	rr := testutil.DoRequest(newRouter(service), multipartRequest(t, map[string]string{"title": "deed"}, nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, service.gotRequest)
}

func TestGetProof(t *testing.T) {
	service := &stubService{record: confirmedRecord()}
	req := testutil.NewRequest(t, http.MethodGet, "/proofs/"+handlerKey.String())
	req.Header.Set("Authorization", "Bearer valid-token")

	rr := testutil.DoRequest(newRouter(service), req)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := testutil.UnmarshalResponse[recordResponse](t, rr)
	assert.Equal(t, handlerKey.String(), resp.Key)
	assert.Equal(t, handlerTx.String(), resp.TxHash)
	assert.True(t, resp.StorageVerified)
}

func TestGetPrivateProofHiddenFromOtherOwners(t *testing.T) {
	record := confirmedRecord()
	record.Metadata.Visibility = models.VisibilityPrivate
	service := &stubService{record: record}
	router := newRouter(service)

	// The owner still reads their own private record.
	req := testutil.NewRequest(t, http.MethodGet, "/proofs/"+handlerKey.String())
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := testutil.DoRequest(router, req)
	require.Equal(t, http.StatusOK, rr.Code)

	// Anyone else gets not-found, not forbidden.
	req = testutil.NewRequest(t, http.MethodGet, "/proofs/"+handlerKey.String())
	req.Header.Set("Authorization", "Bearer other-token")
	rr = testutil.DoRequest(router, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetPublicProofReadableByAnyOwner(t *testing.T) {
	service := &stubService{record: confirmedRecord()}
	req := testutil.NewRequest(t, http.MethodGet, "/proofs/"+handlerKey.String())
	req.Header.Set("Authorization", "Bearer other-token")

	rr := testutil.DoRequest(newRouter(service), req)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := testutil.UnmarshalResponse[recordResponse](t, rr)
	assert.Equal(t, handlerOwner.String(), resp.Owner)
}

func TestGetProofNotFound(t *testing.T) {
	service := &stubService{err: sentinel.ErrNotFound}
	req := testutil.NewRequest(t, http.MethodGet, "/proofs/"+handlerKey.String())
	req.Header.Set("Authorization", "Bearer valid-token")

	rr := testutil.DoRequest(newRouter(service), req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetProofRejectsMalformedKey(t *testing.T) {
	service := &stubService{}
	req := testutil.NewRequest(t, http.MethodGet, "/proofs/not-a-key")
	req.Header.Set("Authorization", "Bearer valid-token")

	rr := testutil.DoRequest(newRouter(service), req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusEndpoint(t *testing.T) {
	service := &stubService{state: models.PipelineState{
		Key:         handlerKey,
		Prepared:    true,
		Uploaded:    true,
		Persisted:   true,
		CurrentStep: models.StepChain,
	}}
	req := testutil.NewRequest(t, http.MethodGet, "/proofs/"+handlerKey.String()+"/status")
	req.Header.Set("Authorization", "Bearer valid-token")

	rr := testutil.DoRequest(newRouter(service), req)

	require.Equal(t, http.StatusOK, rr.Code)
	state := testutil.UnmarshalResponse[models.PipelineState](t, rr)
	assert.True(t, state.Uploaded)
	assert.Equal(t, models.StepChain, state.CurrentStep)
	assert.False(t, state.ChainConfirmed)
}

// TestListHandlerDirect exercises the handler below the middleware stack
// with the owner injected the way RequireAuth would.
func TestListHandlerDirect(t *testing.T) {
	service := &stubService{record: confirmedRecord()}
	h := New(service, slog.New(slog.DiscardHandler), stubValidator{})

	req := testutil.WithOwner(testutil.NewRequest(t, http.MethodGet, "/proofs"), handlerOwner.String())
	rr := httptest.NewRecorder()
	h.handleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	records := testutil.UnmarshalResponse[[]recordResponse](t, rr)
	require.Len(t, *records, 1)
}

func TestListProofs(t *testing.T) {
	service := &stubService{record: confirmedRecord()}
	req := testutil.NewRequest(t, http.MethodGet, "/proofs")
	req.Header.Set("Authorization", "Bearer valid-token")

	rr := testutil.DoRequest(newRouter(service), req)

	require.Equal(t, http.StatusOK, rr.Code)
	records := testutil.UnmarshalResponse[[]recordResponse](t, rr)
	require.Len(t, *records, 1)
	assert.Equal(t, handlerKey.String(), (*records)[0].Key)
}
