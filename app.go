package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"bubblecast/internal/bootstrap"
	"bubblecast/internal/config"
	"bubblecast/internal/domain"
	"bubblecast/internal/overlay"
	"bubblecast/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.RecordingController
	cfg        config.Config
	logger     *slog.Logger
	bootErr    error
}

func NewApp() *App {
	return &App{logger: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.logger = services.Logger
	if err := services.Start(); err != nil {
		a.logger.Error("loopback server failed to start", "error", err)
		a.SessionError(domain.ErrorCodeStartup, err.Error())
	}
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := a.services.Close(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

// StartRecording acquires the screen and microphone and starts recording.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.GetStatus(), err
	}
	return a.GetStatus(), nil
}

// StopRecording finalizes the recording and returns its preview.
func (a *App) StopRecording() (domain.Preview, error) {
	if err := a.requireReady(); err != nil {
		return domain.Preview{}, err
	}
	return a.controller.Stop(a.ctx)
}

// DiscardRecording drops the finished recording.
func (a *App) DiscardRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Discard(); err != nil {
		if errors.Is(err, usecase.ErrNoRecording) {
			return nil
		}
		return err
	}
	return nil
}

// UploadRecording uploads the finished recording with an optional share slug.
func (a *App) UploadRecording(slug string) (domain.UploadResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.UploadResult{}, err
	}
	return a.controller.Upload(a.ctx, slug)
}

// SaveRecording asks for a destination and writes the recording there. An empty
// path means the dialog was cancelled.
func (a *App) SaveRecording() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	preview, err := a.controller.Preview()
	if err != nil {
		return "", err
	}

	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Save recording",
		DefaultFilename: preview.Filename,
		Filters: []runtime.FileFilter{
			{DisplayName: "WebM video (*.webm)", Pattern: "*.webm"},
		},
	})
	if err != nil {
		a.SessionError(domain.ErrorCodeExport, err.Error())
		return "", err
	}
	if path == "" {
		return "", nil
	}

	if _, err := a.controller.ExportArtifact(path); err != nil {
		a.SessionError(domain.ErrorCodeExport, err.Error())
		return "", err
	}
	return path, nil
}

// ToggleWebcam turns the webcam bubble on or off.
func (a *App) ToggleWebcam() (domain.WebcamStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.WebcamStatus{}, err
	}
	return a.controller.ToggleWebcam(a.ctx)
}

// DragStart begins moving the bubble from the pointer position.
func (a *App) DragStart(x, y float64) {
	if a.controller == nil {
		return
	}
	a.controller.Overlay().DragStart(overlay.Point{X: x, Y: y})
}

// DragMove moves the bubble by the pointer delta within a container of the
// given size and returns the new position in percent.
func (a *App) DragMove(x, y, width, height float64) domain.OverlayPosition {
	if a.controller == nil {
		return domain.DefaultOverlayPosition()
	}
	pos, _ := a.controller.Overlay().DragMove(overlay.Point{X: x, Y: y}, overlay.Size{Width: width, Height: height})
	return pos
}

func (a *App) DragEnd() {
	if a.controller == nil {
		return
	}
	a.controller.Overlay().DragEnd()
}

// ResetOverlay puts the bubble back in the default corner.
func (a *App) ResetOverlay() domain.OverlayPosition {
	if a.controller == nil {
		return domain.DefaultOverlayPosition()
	}
	return a.controller.Overlay().Reset()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{
			State:   domain.SessionStateIdle,
			Overlay: domain.DefaultOverlayPosition(),
		}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	status := a.controller.Status()
	status.Message = domain.ReasonMessage(status.Reason)
	return status
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"apiBaseUrl":  a.cfg.Upload.APIBaseURL,
		"screenInput": a.cfg.Devices.ScreenFormat + " " + a.cfg.Devices.ScreenInput,
		"webcamInput": a.cfg.Devices.WebcamFormat + " " + a.cfg.Devices.WebcamInput,
		"micInput":    a.cfg.Devices.MicFormat + " " + a.cfg.Devices.MicInput,
		"slugRules":   a.cfg.Slugs.RulesPath,
		"signedIn":    fmt.Sprint(a.cfg.Auth.Token != "" || a.cfg.Auth.SigningKey != ""),
	}
	if a.services.Server != nil {
		info["serverUrl"] = a.services.Server.BaseURL()
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": domain.ReasonMessage(reason),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventError, map[string]string{
		"code":    string(code),
		"message": domain.ErrorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) WebcamChanged(status domain.WebcamStatus) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventWebcam, status)
}

func (a *App) OverlayMoved(pos domain.OverlayPosition) {
	if a.ctx == nil {
		return
	}
	x, y := pos.Percent()
	runtime.EventsEmit(a.ctx, domain.EventOverlay, map[string]float64{"x": x, "y": y})
}

func (a *App) UploadProgress(sent int64, total int64) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.EventProgress, map[string]int64{"sent": sent, "total": total})
}
