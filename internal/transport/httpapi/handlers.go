package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"blp-router/internal/monitor"
	"blp-router/internal/plugin"
)

const (
	maxBodyBytes     = 1 << 20
	defaultJournal   = 200
	maxJournalLimit  = 1000
	readinessMessage = "ready"
)

type configRequest struct {
	BusinessLogicID string   `json:"businessLogicID"`
	MeterParams     []string `json:"meterParams"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
			return
		}
	}
	writeSuccess(w, http.StatusOK, readinessMessage)
}

// startOperation 请求体整体作为不透明 Body 交给插件，仅从中读取 businessLogicID。
func (h *Handler) startOperation(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var envelope struct {
		BusinessLogicID string `json:"businessLogicID"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeDomainError(w, fmt.Errorf("请求体必须为 JSON 对象: %w", errors.Join(errInvalidInput, err)))
		return
	}
	if strings.TrimSpace(envelope.BusinessLogicID) == "" {
		writeDomainError(w, fmt.Errorf("businessLogicID 不能为空: %w", errInvalidInput))
		return
	}

	tradeID, err := h.deps.Commands.StartOperation(r.Context(), plugin.StartRequest{
		BusinessLogicID: envelope.BusinessLogicID,
		Body:            raw,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]string{"tradeID": tradeID})
}

func (h *Handler) operationStatus(w http.ResponseWriter, r *http.Request) {
	tradeID := strings.TrimSpace(chi.URLParam(r, "tradeID"))

	result, err := h.deps.Commands.OperationStatus(r.Context(), tradeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) setConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req configRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeDomainError(w, fmt.Errorf("解析配置请求失败: %w", errors.Join(errInvalidInput, err)))
		return
	}
	if strings.TrimSpace(req.BusinessLogicID) == "" {
		writeDomainError(w, fmt.Errorf("businessLogicID 不能为空: %w", errInvalidInput))
		return
	}

	result, err := h.deps.Commands.SetConfig(r.Context(), req.BusinessLogicID, req.MeterParams)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// routeEvent 供适配器以 HTTP 推送账本事件；无法路由时仍返回 200 与报告。
func (h *Handler) routeEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var event plugin.LedgerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		writeDomainError(w, fmt.Errorf("解析账本事件失败: %w", errors.Join(errInvalidInput, err)))
		return
	}
	if event.ID == "" {
		writeDomainError(w, fmt.Errorf("账本事件缺少 id: %w", errInvalidInput))
		return
	}

	report := h.deps.Events.OnEvent(r.Context(), event)
	writeSuccess(w, http.StatusOK, report)
}

func (h *Handler) listPlugins(w http.ResponseWriter, _ *http.Request) {
	ids := []string{}
	if h.deps.Registry != nil {
		ids = h.deps.Registry.IDs()
	}
	writeSuccess(w, http.StatusOK, map[string]any{"businessLogicIDs": ids})
}

func (h *Handler) listJournal(w http.ResponseWriter, r *http.Request) {
	if h.deps.Journal == nil {
		writeError(w, http.StatusNotFound, "JOURNAL_DISABLED", "journal is not configured")
		return
	}

	q := r.URL.Query()
	limit := defaultJournal
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > maxJournalLimit {
				v = maxJournalLimit
			}
			limit = v
		}
	}

	events, err := h.deps.Journal.ListEvents(r.Context(), monitor.Query{
		Type:    monitor.EventType(strings.ToLower(strings.TrimSpace(q.Get("type")))),
		Subject: strings.TrimSpace(q.Get("subject")),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, events)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("读取请求体失败: %w", errors.Join(errInvalidInput, err))
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("请求体不能为空: %w", errInvalidInput)
	}
	return raw, nil
}
