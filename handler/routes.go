package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/emailer"
	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/sharelink"
)

// ClientsService is what the client routes need from the orchestrator.
type ClientsService interface {
	ListClients(ctx context.Context) ([]model.ClientRecord, error)
	CreateClient(ctx context.Context, req model.CreateClientPayload) (model.CreateClientResult, error)
	UpdateClient(ctx context.Context, req model.UpdateClientPayload) error
	DeleteClient(ctx context.Context, req model.DeleteClientPayload) error
}

// ServerService is what the server routes need.
type ServerService interface {
	Status(ctx context.Context) (model.ServerStatus, error)
	ExportBackup(ctx context.Context) (model.ServerBackup, error)
	ImportBackup(ctx context.Context, backup model.ServerBackup) error
	ArchiveBackup(ctx context.Context) (model.BackupSnapshot, error)
	ListBackups() ([]model.BackupSnapshot, error)
	RestoreBackup(ctx context.Context, backupID string) error
	Load(ctx context.Context) (model.ServerLoad, error)
	Reboot(ctx context.Context) error
}

// LinkSender delivers a share link to a Telegram user.
type LinkSender interface {
	SendShareLink(userID int64, clientName, link string, qrPNG []byte) error
}

// bindPayload binds and validates a request body.
func bindPayload(c echo.Context, payload interface{}) error {
	if err := c.Bind(payload); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if err := c.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}

// GetClients handler
func GetClients(clients ClientsService) echo.HandlerFunc {
	return func(c echo.Context) error {
		records, err := clients.ListClients(c.Request().Context())
		if err != nil {
			return httpError(c, err, "Cannot list clients")
		}
		return c.JSON(http.StatusOK, records)
	}
}

// NewClient handler. The share link is also delivered by email or Telegram
// when the request asks for it and a transport is configured; a failed
// delivery does not fail the request.
func NewClient(clients ClientsService, mailer emailer.Emailer, bot LinkSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		var payload model.CreateClientPayload
		if err := bindPayload(c, &payload); err != nil {
			return httpError(c, err, "Invalid client data")
		}

		result, err := clients.CreateClient(c.Request().Context(), payload)
		if err != nil {
			return httpError(c, err, "Cannot create client")
		}
		log.Infof("Created client %s on %s", payload.ClientName, result.Protocol)

		if payload.Email != "" || payload.TelegramUserID != 0 {
			deliver(payload, result, mailer, bot)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func deliver(payload model.CreateClientPayload, result model.CreateClientResult, mailer emailer.Emailer, bot LinkSender) {
	qr, err := sharelink.QRPNG(result.Config, 512)
	if err != nil {
		log.Warnf("Cannot render QR code for %s: %v", payload.ClientName, err)
	}
	if payload.Email != "" {
		if mailer == nil {
			log.Warnf("Cannot email client %s: no mail transport configured", payload.ClientName)
		} else if err := emailer.SendShareLink(mailer, payload.ClientName, payload.Email, result.Config, qr); err != nil {
			log.Error("Cannot send email: ", err)
		}
	}
	if payload.TelegramUserID != 0 {
		if bot == nil {
			log.Warnf("Cannot send client %s to telegram: bot is not configured", payload.ClientName)
		} else if err := bot.SendShareLink(payload.TelegramUserID, payload.ClientName, result.Config, qr); err != nil {
			log.Error("Cannot send telegram message: ", err)
		}
	}
}

// UpdateClient handler
func UpdateClient(clients ClientsService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var payload model.UpdateClientPayload
		if err := bindPayload(c, &payload); err != nil {
			return httpError(c, err, "Invalid client data")
		}
		if err := clients.UpdateClient(c.Request().Context(), payload); err != nil {
			return httpError(c, err, "Cannot update client")
		}
		log.Infof("Updated client %s", payload.ClientID)
		return c.NoContent(http.StatusNoContent)
	}
}

// RemoveClient handler
func RemoveClient(clients ClientsService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var payload model.DeleteClientPayload
		if err := bindPayload(c, &payload); err != nil {
			return httpError(c, err, "Invalid client data")
		}
		if err := clients.DeleteClient(c.Request().Context(), payload); err != nil {
			return httpError(c, err, "Cannot delete client")
		}
		log.Infof("Removed client %s", payload.ClientID)
		return c.NoContent(http.StatusNoContent)
	}
}

// ServerStatus handler
func ServerStatus(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, err := server.Status(c.Request().Context())
		if err != nil {
			return httpError(c, err, "Cannot read server status")
		}
		return c.JSON(http.StatusOK, status)
	}
}

// ExportBackup handler
func ExportBackup(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		backup, err := server.ExportBackup(c.Request().Context())
		if err != nil {
			return httpError(c, err, "Cannot export backup")
		}
		return c.JSON(http.StatusOK, backup)
	}
}

// ImportBackup handler
func ImportBackup(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var backup model.ServerBackup
		if err := c.Bind(&backup); err != nil {
			return httpError(c, fmt.Errorf("%w: %v", model.ErrValidation, err), "Invalid backup")
		}
		if err := server.ImportBackup(c.Request().Context(), backup); err != nil {
			return httpError(c, err, "Cannot import backup")
		}
		log.Infof("Imported backup of %v", backup.Protocols)
		return c.NoContent(http.StatusNoContent)
	}
}

// ArchiveBackup stores a snapshot of the current state in the archive.
func ArchiveBackup(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		snapshot, err := server.ArchiveBackup(c.Request().Context())
		if err != nil {
			return httpError(c, err, "Cannot archive backup")
		}
		log.Infof("Archived backup %s", snapshot.ID)
		return c.JSON(http.StatusCreated, snapshot)
	}
}

// GetBackups handler
func GetBackups(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		backups, err := server.ListBackups()
		if err != nil {
			return httpError(c, err, "Cannot list backups")
		}
		if backups == nil {
			backups = []model.BackupSnapshot{}
		}
		return c.JSON(http.StatusOK, backups)
	}
}

// RestoreBackup handler
func RestoreBackup(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := server.RestoreBackup(c.Request().Context(), id); err != nil {
			return httpError(c, err, "Cannot restore backup")
		}
		log.Infof("Restored backup %s", id)
		return c.NoContent(http.StatusNoContent)
	}
}

// ServerLoad handler
func ServerLoad(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		load, err := server.Load(c.Request().Context())
		if err != nil {
			return httpError(c, err, "Cannot read server load")
		}
		return c.JSON(http.StatusOK, load)
	}
}

// RebootServer handler
func RebootServer(server ServerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := server.Reboot(c.Request().Context()); err != nil {
			return httpError(c, err, "Cannot reboot server")
		}
		return c.JSON(http.StatusAccepted, jsonHTTPResponse{Status: true, Message: "Reboot requested"})
	}
}
