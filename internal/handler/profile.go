package handler

import (
    "errors"
    "net/http"

    "github.com/charmbracelet/log"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/slot-reservation/internal/middleware"
    "github.com/iliyamo/slot-reservation/internal/model"
    "github.com/iliyamo/slot-reservation/internal/repository"
)

// ProfileHandler exposes the caller's handle and wallet balance.
type ProfileHandler struct {
    Users *repository.UserRepo
}

// Profile handles GET /v1/me/profile and returns {"id", "handle", "role"}.
func (h *ProfileHandler) Profile(c echo.Context) error {
    u, status, msg := h.load(c)
    if status != http.StatusOK {
        return c.JSON(status, echo.Map{"error": msg})
    }
    return c.JSON(http.StatusOK, echo.Map{"id": u.ID, "handle": u.Handle, "role": u.Role})
}

// Wallet handles GET /v1/me/wallet and returns {"balance"}.
func (h *ProfileHandler) Wallet(c echo.Context) error {
    u, status, msg := h.load(c)
    if status != http.StatusOK {
        return c.JSON(status, echo.Map{"error": msg})
    }
    c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
    return c.JSON(http.StatusOK, echo.Map{"balance": u.WalletBalance})
}

// load fetches the caller and the status to answer with when it cannot.
func (h *ProfileHandler) load(c echo.Context) (model.User, int, string) {
    uid, err := middleware.UserID(c)
    if err != nil {
        return model.User{}, http.StatusUnauthorized, "unauthorized"
    }
    u, err := h.Users.GetByID(c.Request().Context(), uid)
    if errors.Is(err, repository.ErrNotFound) {
        return u, http.StatusNotFound, "user not found"
    }
    if err != nil {
        log.Error("load user", "user_id", uid, "error", err)
        return u, http.StatusInternalServerError, "database error"
    }
    return u, http.StatusOK, ""
}
