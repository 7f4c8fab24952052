package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/pkg/logger"
)

const maxRequestBytes = 1 << 20

// errorEnvelope 是所有错误响应的统一外层结构。
type errorEnvelope struct {
	Error xerrors.Payload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn("写入响应失败", "error", err)
	}
}

// writeError 把错误渲染为 {"error":{code,message,retryable,details}}，状态码由错误码决定。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()),
			"error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: xerrors.PayloadOf(err)})
}

// decodeJSON 读取请求体并解码。类型不匹配（例如宽度传入字符串）会被报告为 INVALID_INPUT。
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "failed to read request body")
	}
	return decodeBody(body, v)
}

func decodeBody(body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "request body must be a JSON object")
	}
	if err := json.Unmarshal(body, v); err != nil {
		opts := []xerrors.Option{}
		var typeErr *json.UnmarshalTypeError
		if stdErrors.As(err, &typeErr) && typeErr.Field != "" {
			opts = append(opts, xerrors.WithField(typeErr.Field), xerrors.WithValue(typeErr.Value))
		}
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "request body is not valid JSON for this endpoint", opts...)
	}
	return nil
}

// intParam 解析整数参数，缺失或非数字时返回 INVALID_INPUT。
func intParam(field, raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidInput, field+" must be an integer",
			xerrors.WithField(field), xerrors.WithValue(raw))
	}
	return value, nil
}
