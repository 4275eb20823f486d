package studio

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/http/middleware"
	"github.com/mudler/genstudio/core/schema"
)

func chatStore(c echo.Context, app *application.Application) (*chat.Store, error) {
	return app.Chats().For(c.Request().Context(), middleware.Owner(c))
}

// sessionID maps the "current" alias to the current session.
func sessionID(c echo.Context) string {
	id := c.Param("id")
	if id == "current" {
		return ""
	}
	return id
}

// presentMessage resolves the outputs of the local output store against the
// external base URL.
func presentMessage(c echo.Context, m chat.Message) chat.Message {
	if a := m.Content.Assistant; a != nil && len(a.Outputs) > 0 {
		outputs := make([]string, len(a.Outputs))
		for i, o := range a.Outputs {
			outputs[i] = middleware.AbsoluteURL(c, o)
		}
		cp := *a
		cp.Outputs = outputs
		m.Content.Assistant = &cp
	}
	return m
}

func summaryOf(store *chat.Store, id string) (chat.SessionSummary, bool) {
	for _, s := range store.Sessions() {
		if s.ID == id {
			return s, true
		}
	}
	return chat.SessionSummary{}, false
}

// ListSessionsEndpoint lists sessions, most recently updated first
// @Success 200 {object} schema.SessionsResponse
// @Router /api/sessions [get]
func ListSessionsEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, schema.SessionsResponse{
			CurrentSessionID: store.Current().ID,
			Sessions:         store.Sessions(),
		})
	}
}

// CreateSessionEndpoint creates a session and makes it current
// @Param request body schema.SessionRequest false "Session name"
// @Router /api/sessions [post]
func CreateSessionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.SessionRequest
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return err
			}
		}
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		sum, err := store.CreateSession(req.Name)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, sum)
	}
}

// @Router /api/sessions/{id} [put]
func RenameSessionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req schema.SessionRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		id := c.Param("id")
		if err := store.RenameSession(id, req.Name); err != nil {
			return err
		}
		sum, _ := summaryOf(store, id)
		return c.JSON(http.StatusOK, sum)
	}
}

// @Router /api/sessions/{id}/select [post]
func SelectSessionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		if err := store.SwitchSession(c.Param("id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// DeleteSessionEndpoint deletes a session. Deleting the last one leaves a
// fresh empty session behind.
// @Router /api/sessions/{id} [delete]
func DeleteSessionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		if err := store.DeleteSession(c.Param("id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// @Router /api/sessions/{id}/messages [get]
func ListMessagesEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		sess, err := store.Session(sessionID(c))
		if err != nil {
			return err
		}
		msgs := make([]chat.Message, len(sess.Messages))
		for i, m := range sess.Messages {
			msgs[i] = presentMessage(c, m)
		}
		return c.JSON(http.StatusOK, schema.MessagesResponse{SessionID: sess.ID, Messages: msgs})
	}
}

// @Router /api/sessions/{id}/messages [delete]
func ClearSessionEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		if err := store.ClearSession(sessionID(c)); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// @Router /api/sessions/{id}/messages/{mid} [delete]
func DeleteMessageEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		if err := store.DeleteMessage(sessionID(c), c.Param("mid")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// GetMessageEndpoint returns one message from any session, which is how a
// client follows a generation it did not wait for.
// @Router /api/messages/{mid} [get]
func GetMessageEndpoint(app *application.Application) echo.HandlerFunc {
	return func(c echo.Context) error {
		store, err := chatStore(c, app)
		if err != nil {
			return err
		}
		m, err := store.Message(c.Param("mid"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, presentMessage(c, m))
	}
}
