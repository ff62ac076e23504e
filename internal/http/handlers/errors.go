package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/middleware"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/services"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var kindStatus = map[string]int{
	services.KindValidation:   fiber.StatusBadRequest,
	services.KindForbidden:    fiber.StatusForbidden,
	services.KindNotFound:     fiber.StatusNotFound,
	services.KindInvalidState: fiber.StatusConflict,
	services.KindOrdering:     fiber.StatusConflict,
	services.KindWallet:       fiber.StatusPreconditionRequired,
	services.KindTransaction:  fiber.StatusBadGateway,
	services.KindPersistence:  fiber.StatusInternalServerError,
	services.KindConfig:       fiber.StatusServiceUnavailable,
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

// respondErr turns a service error into the JSON error body. Action errors
// carry their own notice; anything else is an opaque 500.
func respondErr(c *fiber.Ctx, log *zap.Logger, err error) error {
	var ae *services.ActionError
	if !errors.As(err, &ae) {
		log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "internal error")
	}

	status, ok := kindStatus[ae.Kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	if status >= fiber.StatusInternalServerError {
		log.Error("action failed", zap.String("op", ae.Op), zap.String("kind", ae.Kind), zap.Error(ae.Err))
	} else {
		log.Debug("action refused", zap.String("op", ae.Op), zap.String("kind", ae.Kind), zap.Error(ae.Err))
	}
	return c.Status(status).JSON(dto.ErrorResponse{
		Error:     ae.Notice(),
		Kind:      ae.Kind,
		RequestID: middleware.GetRequestID(c),
	})
}

// bind parses the JSON body into req and validates its tags.
func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q", strings.ToLower(fe.Namespace()), fe.Tag())
		}
		return err
	}
	return nil
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func indexParam(c *fiber.Ctx) (int, error) {
	idx, err := strconv.Atoi(c.Params("index"))
	if err != nil || idx < 0 {
		return 0, errors.New("invalid milestone index")
	}
	return idx, nil
}

func pageParams(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", 20)
	offset = c.QueryInt("offset", 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
