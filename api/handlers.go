package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/board"
	"github.com/DeSecurity/focused-life-hq/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(store, auth, logger))
	e.GET("/api/board", getBoard(store, auth))
	e.GET("/api/items", getItems(store, auth))
	e.GET("/api/settings", getSettings(store, auth))
	e.POST("/api/commands", postCommands(store, auth, deduper), DecompressRequests())
	e.GET("/healthz", healthz(store))

	initCommandSender(store, deduper, logger)
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if _, err := store.FetchSettings(ctx, "healthz"); err != nil {
			return c.String(http.StatusServiceUnavailable, "storage unavailable")
		}
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		pageToken := c.QueryParam("pageToken")
		metrics.SetPageTokenProvided(pageToken != "")

		pageSizeParam := strings.TrimSpace(c.QueryParam("pageSize"))
		pageSize := 0
		if pageSizeParam != "" {
			var parseErr error
			pageSize, parseErr = strconv.Atoi(pageSizeParam)
			if parseErr != nil || pageSize <= 0 {
				metrics.SetErrorStage("invalid_page_size")
				err = c.String(http.StatusBadRequest, "invalid page size")
				return err
			}
		}

		fetchStart := time.Now()
		tasks, nextToken, fetchErr := store.FetchTasks(ctx, userID, pageToken, pageSize)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			var invalidTokenErr InvalidContinuationTokenError
			if errors.As(fetchErr, &invalidTokenErr) {
				metrics.SetErrorStage("invalid_page_token")
				err = c.String(http.StatusBadRequest, "invalid page token")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))
		resp := tasksResponse{Tasks: tasks}
		if nextToken != "" {
			metrics.SetHasNextPage(true)
			resp.NextPageToken = nextToken
		}
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// getBoard returns every task grouped into status columns, each column sorted
// by its explicit ordering. Clients render this directly as the kanban view.
func getBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := store.FetchAllTasks(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, boardResponse{Columns: board.GroupByStatus(tasks)})
	}
}

func getItems(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		kind := domain.ItemKind(c.QueryParam("kind"))
		if !kind.Valid() {
			return c.String(http.StatusBadRequest, "invalid item kind")
		}
		items, err := store.FetchItems(ctx, userID, kind)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, itemsResponse{Items: items})
	}
}

func getSettings(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func postCommands(store Storage, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]domain.Command, 0, 4)
		if err := dec.Decode(&cmds); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(cmds) == 0 {
			return c.String(http.StatusBadRequest, "empty command batch")
		}
		for i := range cmds {
			if err := cmds[i].Validate(); err != nil {
				return c.JSON(http.StatusBadRequest, postCommandResponse{Error: err.Error()})
			}
		}

		keys := finalizeCommands(cmds)

		// Filter out commands whose idempotency key was already seen. The
		// dedupe check failing open would reintroduce duplicates, so a Redis
		// error rejects the batch instead.
		fresh := cmds
		added := keys
		if deduper != nil {
			newKeys, dedupeErr := deduper.AddMany(c.Request().Context(), userID, keys)
			if dedupeErr != nil {
				rollbackKeys(deduper, userID, keys, newKeys)
				c.Logger().Errorf("dedupe check failed: %v", dedupeErr)
				return c.String(http.StatusInternalServerError, "failed to enqueue commands")
			}
			fresh = make([]domain.Command, 0, len(cmds))
			added = make([]string, 0, len(keys))
			for i, isNew := range newKeys {
				if isNew {
					fresh = append(fresh, cmds[i])
					added = append(added, keys[i])
				}
			}
			if len(fresh) == 0 {
				return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
			}
		}

		job := enqueueJob{
			userID: userID,
			cmds:   fresh,
			added:  added,
		}

		if tryEnqueueJob(job) {
			return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
		}

		if globalLog != nil {
			globalLog.Warn("enqueue buffer saturated; processing inline")
		}

		enqueueCtx, cancel := context.WithTimeout(bg, inlineEnqueueTimeout())
		enqueueErr := store.EnqueueCommands(enqueueCtx, userID, fresh)
		cancel()

		if enqueueErr != nil {
			if deduper != nil {
				for _, k := range added {
					if rerr := deduper.Remove(bg, userID, k); rerr != nil {
						c.Logger().Errorf("dedupe rollback failed: %v, key: %s", rerr, k)
					}
				}
			}
			c.Logger().Errorf("enqueue inline failed: %v", enqueueErr)
			return c.String(http.StatusInternalServerError, "failed to enqueue commands")
		}

		return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
	}
}

func rollbackKeys(deduper Deduper, userID string, keys []string, results []bool) {
	for i, isNew := range results {
		if isNew && i < len(keys) {
			_ = deduper.Remove(bg, userID, keys[i])
		}
	}
}

func inlineEnqueueTimeout() time.Duration {
	if enqueueTimeout > 0 {
		return enqueueTimeout
	}
	return 60 * time.Second
}
