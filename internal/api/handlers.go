package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/gofiber/fiber/v2"
)

// amountField accepts an amount as a JSON string or number.
type amountField struct {
	raw     string
	present bool
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	a.present = true
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &a.raw)
	}
	a.raw = string(b)
	return nil
}

type transactionRequest struct {
	Amount       amountField `json:"amount"`
	Description  string      `json:"description"`
	Date         string      `json:"date"`
	Jurisdiction string      `json:"jurisdiction"`
	User         string      `json:"user"`
	ForceRemote  bool        `json:"force_remote"`
	BypassCache  bool        `json:"bypass_cache"`
	LocalOnly    bool        `json:"local_only"`
}

func (t transactionRequest) toEngine() (engine.Request, error) {
	if !t.Amount.present {
		return engine.Request{}, fmt.Errorf("%w: amount is required", common.ErrInvalidRequest)
	}
	amount, err := engine.ParseAmount(t.Amount.raw)
	if err != nil {
		return engine.Request{}, err
	}
	date, err := parseDate(t.Date)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{
		Date:         date,
		Amount:       amount,
		Description:  t.Description,
		Jurisdiction: t.Jurisdiction,
		User:         t.User,
		ForceRemote:  t.ForceRemote,
		BypassCache:  t.BypassCache,
		LocalOnly:    t.LocalOnly,
	}, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD or RFC 3339", common.ErrInvalidRequest, raw)
}

// decode reads a JSON body, reporting malformed input as a bad request.
func decode(c *fiber.Ctx, into any) error {
	if err := json.Unmarshal(c.Body(), into); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %w", common.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	jurisdictions, err := s.engine.Registry().Jurisdictions(c.UserContext())
	if err != nil {
		return err
	}

	remoteState := "disabled"
	if s.remote != nil {
		remoteState = s.remote.State().String()
	}

	return c.JSON(fiber.Map{
		"status":        "ok",
		"version":       s.cfg.Version,
		"remote":        remoteState,
		"jurisdictions": jurisdictions,
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.engine.Stats())
}

func (s *Server) handleClassify(c *fiber.Ctx) error {
	var body transactionRequest
	if err := decode(c, &body); err != nil {
		return err
	}
	req, err := body.toEngine()
	if err != nil {
		return err
	}

	result, err := s.engine.Classify(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type batchRequest struct {
	Transactions []transactionRequest `json:"transactions"`
	Workers      int                  `json:"workers"`
}

type batchResult struct {
	Result *model.CategorizationResult `json:"result,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

func (s *Server) handleClassifyBatch(c *fiber.Ctx) error {
	var body batchRequest
	if err := decode(c, &body); err != nil {
		return err
	}
	if len(body.Transactions) == 0 {
		return fmt.Errorf("%w: transactions are required", common.ErrInvalidRequest)
	}
	if len(body.Transactions) > MaxBatchSize {
		return fmt.Errorf("%w: batch of %d exceeds limit of %d", common.ErrInvalidRequest, len(body.Transactions), MaxBatchSize)
	}

	reqs := make([]engine.Request, len(body.Transactions))
	for i, t := range body.Transactions {
		req, err := t.toEngine()
		if err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
		reqs[i] = req
	}

	items, err := s.engine.ClassifyBatch(c.UserContext(), reqs, body.Workers)
	if err != nil {
		return err
	}

	out := make([]batchResult, len(items))
	for i, item := range items {
		if item.Err != nil {
			out[i].Error = item.Err.Error()
			continue
		}
		result := item.Result
		out[i].Result = &result
	}
	return c.JSON(fiber.Map{"results": out, "count": len(out)})
}

type correctionRequest struct {
	AccountCode string `json:"account_code"`
	Note        string `json:"note"`
	transactionRequest
}

func (s *Server) handleCorrection(c *fiber.Ctx) error {
	var body correctionRequest
	if err := decode(c, &body); err != nil {
		return err
	}
	if strings.TrimSpace(body.AccountCode) == "" {
		return fmt.Errorf("%w: account_code is required", common.ErrInvalidRequest)
	}
	req, err := body.toEngine()
	if err != nil {
		return err
	}

	correction, err := s.engine.RecordCorrection(c.UserContext(), req, body.AccountCode, body.Note)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(correction)
}

func (s *Server) handleAsk(c *fiber.Ctx) error {
	if s.remote == nil {
		return fmt.Errorf("%w: no provider configured", common.ErrRemoteUnavailable)
	}
	var body struct {
		Question string `json:"question"`
	}
	if err := decode(c, &body); err != nil {
		return err
	}
	answer, err := s.remote.Ask(c.UserContext(), body.Question)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"answer": answer})
}

func (s *Server) handleAccounts(c *fiber.Ctx) error {
	set, err := s.engine.Registry().Load(c.UserContext(), c.Params("jurisdiction"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"jurisdiction": set.Jurisdiction(),
		"name":         set.Name(),
		"currency":     set.Currency(),
		"accounts":     set.All(),
	})
}

func (s *Server) handleListRules(c *fiber.Ctx) error {
	filter := rules.Filter{
		Jurisdiction:    c.Query("jurisdiction"),
		Kind:            model.RuleKind(c.Query("kind")),
		IncludeDisabled: c.QueryBool("include_disabled", false),
	}
	list := s.engine.Rules().List(filter)
	return c.JSON(fiber.Map{"rules": list, "count": len(list)})
}

type ruleRequest struct {
	Kind         model.RuleKind `json:"kind"`
	AccountCode  string         `json:"account_code"`
	Jurisdiction string         `json:"jurisdiction"`
	Note         string         `json:"note"`
	Keywords     []string       `json:"keywords"`
	Confidence   int            `json:"confidence"`
}

func (s *Server) handleAddRule(c *fiber.Ctx) error {
	var body ruleRequest
	if err := decode(c, &body); err != nil {
		return err
	}
	if body.Jurisdiction == "" {
		body.Jurisdiction = s.engine.Registry().Default()
	}
	spec := rules.RuleSpec{
		AccountCode:  body.AccountCode,
		Note:         body.Note,
		Jurisdiction: body.Jurisdiction,
		Keywords:     body.Keywords,
		Confidence:   body.Confidence,
	}

	store := s.engine.Rules()
	var (
		rule model.Rule
		err  error
	)
	switch body.Kind {
	case model.RuleKindExact:
		rule, err = store.AddExact(c.UserContext(), spec)
	case model.RuleKindKeyword:
		rule, err = store.AddKeyword(c.UserContext(), spec)
	case model.RuleKindMulti, "":
		rule, err = store.AddRule(c.UserContext(), spec)
	default:
		err = fmt.Errorf("%w: unknown rule kind %q", common.ErrInvalidRule, body.Kind)
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

type rulePatchRequest struct {
	Keywords    []string `json:"keywords"`
	AccountCode *string  `json:"account_code"`
	Note        *string  `json:"note"`
	Confidence  *int     `json:"confidence"`
	Disabled    *bool    `json:"disabled"`
}

func (s *Server) handleUpdateRule(c *fiber.Ctx) error {
	var body rulePatchRequest
	if err := decode(c, &body); err != nil {
		return err
	}
	rule, err := s.engine.Rules().Update(c.UserContext(), c.Params("id"), rules.RulePatch{
		Keywords:    body.Keywords,
		AccountCode: body.AccountCode,
		Note:        body.Note,
		Confidence:  body.Confidence,
		Disabled:    body.Disabled,
	})
	if err != nil {
		return err
	}
	return c.JSON(rule)
}

func (s *Server) handleRemoveRule(c *fiber.Ctx) error {
	if err := s.engine.Rules().Remove(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleExportRules(c *fiber.Ctx) error {
	return c.JSON(s.engine.Rules().Export())
}

func (s *Server) handleImportRules(c *fiber.Ctx) error {
	snap, err := rules.ReadSnapshot(bytes.NewReader(c.Body()))
	if err != nil {
		if errors.Is(err, common.ErrUnsupportedSnapshot) {
			return err
		}
		return fmt.Errorf("%w: %w", common.ErrInvalidRequest, err)
	}
	report, err := s.engine.Rules().Import(c.UserContext(), snap)
	if err != nil {
		return err
	}
	return c.JSON(report)
}
