package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/modules/compliance/services"
	"github.com/nzwater/compliance-core/pkg/application"
	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/httpapi"
	"github.com/nzwater/compliance-core/pkg/middleware"
)

const (
	APIPrefix = "/compliance/api"

	mergePatchContentType = "application/merge-patch+json"
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxBodyBytes          = 1 << 20
)

type ComplianceAPIController struct {
	plans     *services.PlanService
	apiPrefix string
}

func NewComplianceAPIController(app application.Application) application.Controller {
	return &ComplianceAPIController{
		plans:     app.Service(services.PlanService{}).(*services.PlanService),
		apiPrefix: APIPrefix,
	}
}

func (c *ComplianceAPIController) Key() string {
	return c.apiPrefix
}

func (c *ComplianceAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()
	api.Use(middleware.RequireIdentity())

	const id = "{id:[0-9a-fA-F-]{36}}"
	api.HandleFunc("/plans", c.ListPlans).Methods(http.MethodGet)
	api.HandleFunc("/plans", c.CreatePlan).Methods(http.MethodPost)
	api.HandleFunc("/plans:export", c.ExportPlans).Methods(http.MethodGet)
	api.HandleFunc("/plans/"+id, c.GetPlan).Methods(http.MethodGet)
	api.HandleFunc("/plans/"+id, c.UpdatePlan).Methods(http.MethodPatch)
	api.HandleFunc("/plans/"+id, c.DeletePlan).Methods(http.MethodDelete)
	api.HandleFunc("/plans/"+id+":submit", c.SubmitPlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/"+id+":approve", c.ApprovePlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/"+id+":reject", c.RejectPlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/"+id+":revise", c.RevisePlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/"+id+"/completeness", c.GetCompleteness).Methods(http.MethodGet)
	api.HandleFunc("/plans/"+id+"/history", c.GetHistory).Methods(http.MethodGet)
}

type planResponse struct {
	plan.Snapshot
	Completeness   plan.Report   `json:"completeness"`
	AllowedActions []plan.Action `json:"allowedActions"`
}

func toPlanResponse(p plan.Plan) planResponse {
	return planResponse{
		Snapshot:       p.Snapshot(),
		Completeness:   p.Completeness(),
		AllowedActions: plan.AllowedActions(p.Status()),
	}
}

type listResponse struct {
	Items  []plan.Snapshot `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (c *ComplianceAPIController) ListPlans(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	params, err := parseFindParams(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_QUERY", err.Error())
		return
	}
	page, err := c.plans.List(r.Context(), params)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, listResponse{Items: page.Items, Total: page.Total, Limit: params.Limit, Offset: params.Offset})
}

func (c *ComplianceAPIController) CreatePlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var dto plan.CreateDTO
	if err := decodeJSON(r.Body, &dto); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid json body")
		return
	}
	p, err := c.plans.Create(r.Context(), &dto)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/plans/%s", c.apiPrefix, p.ID()))
	writePlan(w, http.StatusCreated, p)
}

func (c *ComplianceAPIController) GetPlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	p, err := c.plans.Get(r.Context(), planID(r))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writePlan(w, http.StatusOK, p)
}

// UpdatePlan accepts either an UpdateDTO carrying its version, or an RFC 7396 merge patch
// guarded by If-Match.
func (c *ComplianceAPIController) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id := planID(r)

	if strings.HasPrefix(r.Header.Get("Content-Type"), mergePatchContentType) {
		version, ok := ifMatchVersion(r)
		if !ok {
			writeAPIError(w, http.StatusPreconditionRequired, requestID, "COMPLIANCE_VERSION_REQUIRED", "If-Match with the plan version is required")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid body")
			return
		}
		p, err := c.plans.Patch(r.Context(), id, version, body)
		if err != nil {
			writeServiceError(w, requestID, err)
			return
		}
		writePlan(w, http.StatusOK, p)
		return
	}

	var dto plan.UpdateDTO
	if err := decodeJSON(r.Body, &dto); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid json body")
		return
	}
	if dto.Version == 0 {
		if v, ok := ifMatchVersion(r); ok {
			dto.Version = v
		}
	}
	p, err := c.plans.Update(r.Context(), id, &dto)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writePlan(w, http.StatusOK, p)
}

func (c *ComplianceAPIController) DeletePlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	version, ok := ifMatchVersion(r)
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_QUERY", "version must be a positive integer")
			return
		}
		version, ok = v, true
	}
	if !ok {
		writeAPIError(w, http.StatusPreconditionRequired, requestID, "COMPLIANCE_VERSION_REQUIRED", "version is required")
		return
	}
	if err := c.plans.Delete(r.Context(), planID(r), version); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type versionRequest struct {
	Version int `json:"version"`
}

type submitResponse struct {
	Plan    planResponse `json:"plan"`
	Report  plan.Report  `json:"completeness"`
	Warning bool         `json:"warning"`
}

func (c *ComplianceAPIController) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var req versionRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid json body")
		return
	}
	res, err := c.plans.Submit(r.Context(), planID(r), req.Version)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	setETag(w, res.Plan)
	_ = httpapi.WriteJSON(w, http.StatusOK, submitResponse{Plan: toPlanResponse(res.Plan), Report: res.Report, Warning: res.Warning})
}

type approveRequest struct {
	ReviewerID uuid.UUID `json:"reviewerId"`
}

func (c *ComplianceAPIController) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var req approveRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid json body")
		return
	}
	p, err := c.plans.Approve(r.Context(), planID(r), req.ReviewerID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writePlan(w, http.StatusOK, p)
}

func (c *ComplianceAPIController) RejectPlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var dto plan.RejectDTO
	if err := decodeJSON(r.Body, &dto); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid json body")
		return
	}
	p, err := c.plans.Reject(r.Context(), planID(r), &dto)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writePlan(w, http.StatusOK, p)
}

func (c *ComplianceAPIController) RevisePlan(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var req versionRequest
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_BODY", "invalid json body")
		return
	}
	p, err := c.plans.Revise(r.Context(), planID(r), req.Version)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writePlan(w, http.StatusOK, p)
}

func (c *ComplianceAPIController) GetCompleteness(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	report, err := c.plans.EvaluateCompleteness(r.Context(), planID(r))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, report)
}

func (c *ComplianceAPIController) GetHistory(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	entries, err := c.plans.History(r.Context(), planID(r))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// ExportPlans renders the whole filtered register; buffering keeps failures reportable as JSON.
func (c *ComplianceAPIController) ExportPlans(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	params, err := parseFindParams(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "COMPLIANCE_INVALID_QUERY", err.Error())
		return
	}
	var buf bytes.Buffer
	if err := c.plans.Export(r.Context(), params, &buf); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="compliance-plans.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseFindParams(r *http.Request) (*plan.FindParams, error) {
	q := r.URL.Query()
	params := &plan.FindParams{
		Q:      strings.TrimSpace(q.Get("q")),
		SortBy: plan.SortField(strings.ToLower(strings.TrimSpace(q.Get("sort")))),
		Desc:   !strings.EqualFold(q.Get("order"), "asc"),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := plan.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		params.Status = st
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		params.PlanType = plan.Type(strings.ToUpper(raw))
	}
	var err error
	if params.Limit, err = queryInt(q.Get("limit")); err != nil {
		return nil, fmt.Errorf("limit: %w", err)
	}
	if params.Offset, err = queryInt(q.Get("offset")); err != nil {
		return nil, fmt.Errorf("offset: %w", err)
	}
	return params, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}

func planID(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(mux.Vars(r)["id"])
	return id
}

// ifMatchVersion reads a plan version from If-Match, accepting quoted and weak ETags.
func ifMatchVersion(r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func setETag(w http.ResponseWriter, p plan.Plan) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(p.Version())))
}

func writePlan(w http.ResponseWriter, status int, p plan.Plan) {
	setETag(w, p)
	_ = httpapi.WriteJSON(w, status, toPlanResponse(p))
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptionalJSON treats an empty body as an empty object.
func decodeOptionalJSON(body io.Reader, v any) error {
	if err := decodeJSON(body, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		_ = httpapi.WriteJSON(w, svcErr.Status, httpapi.ErrorEnvelope{
			Code:    svcErr.Code,
			Message: svcErr.Message,
			Meta:    requestMeta(requestID),
			Details: svcErr.Details,
		})
		return
	}
	writeAPIError(w, http.StatusInternalServerError, requestID, services.CodeInternal, "internal error")
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	_ = httpapi.WriteError(w, status, code, message, requestMeta(requestID))
}

func requestMeta(requestID string) map[string]string {
	meta := map[string]string{}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	return meta
}

