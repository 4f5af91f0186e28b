package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/4xmen/kelasyar/internal/backendtest"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/config"
	"github.com/4xmen/kelasyar/pkg/logger"
	"github.com/gin-gonic/gin"
)

type demoAccount struct {
	user  models.User
	token string
}

// seedSandbox registers a small school: an admin, a teacher, a parent with
// one child, and a class group.
func seedSandbox(srv *backendtest.Server) ([]demoAccount, error) {
	admin := srv.AddUser(models.User{FirstName: "Sara", LastName: "Moradi", Role: models.RoleAdmin})
	teacher := srv.AddUser(models.User{FirstName: "Leila", LastName: "Ahmadi", Role: models.RoleTeacher})
	parent := srv.AddUser(models.User{FirstName: "Maryam", LastName: "Rahimi", Role: models.RoleParent})
	student := srv.AddChild(parent.ID, models.User{FirstName: "Ali", LastName: "Rahimi", Role: models.RoleStudent})
	srv.AddGroup("Class 5B", teacher.ID, parent.ID, student.ID)

	var accounts []demoAccount
	for _, u := range []models.User{admin, teacher, parent, student} {
		token, err := srv.Token(u.ID)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, demoAccount{user: u, token: token})
	}
	return accounts, nil
}

func runSandbox(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.Environment == "production" {
		return errors.New("sandbox is not available in production")
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := backendtest.New(
		backendtest.WithSecret(cfg.SandboxSecret),
		backendtest.WithMaxUploadSize(cfg.MaxUploadSize),
		backendtest.WithEditWindow(cfg.EditWindow),
	)
	defer srv.Close()

	accounts, err := seedSandbox(srv)
	if err != nil {
		return fmt.Errorf("failed to seed sandbox: %w", err)
	}

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.SandboxPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Fprintf(out, "Sandbox API on http://localhost:%s/api\n", cfg.SandboxPort)
	fmt.Fprintln(out, "Demo accounts (export KELASYAR_TOKEN=... or run kelasyar login <token>):")
	for _, acc := range accounts {
		fmt.Fprintf(out, "  #%d %-16s %-8s %s\n", acc.user.ID, acc.user.DisplayName(), acc.user.Role, acc.token)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("sandbox listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down sandbox")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
