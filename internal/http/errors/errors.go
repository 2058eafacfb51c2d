package errors

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
)

// Message es un mensaje para el usuario final (nivel + texto).
type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type errorResponse struct {
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Detail   string    `json:"detail,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// WriteError escribe err como JSON. Los 5xx se loguean con la causa original,
// que nunca llega al cliente.
func WriteError(w http.ResponseWriter, r *http.Request, err error, msgs ...Message) {
	appErr := FromError(err)

	if appErr.HTTPStatus >= 500 {
		logger.From(r.Context()).Error("request failed",
			logger.String("code", appErr.Code),
			logger.Err(appErr.Err),
		)
	}

	render.Status(r, appErr.HTTPStatus)
	render.JSON(w, r, errorResponse{
		Code:     appErr.Code,
		Message:  appErr.Message,
		Detail:   appErr.Detail,
		Messages: msgs,
	})
}
