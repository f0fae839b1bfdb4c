// Package builtin holds the tools registered out of the box: calculator,
// stay pricing, remember, and send_message.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/tools"
)

// Calculator evaluates arithmetic expressions. Pure, no side effects.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Meta() tools.Metadata {
	return tools.Metadata{
		ID:          "calculator",
		Name:        "Calculator",
		Description: "Evaluate an arithmetic expression (+, -, *, /, parentheses).",
		Category:    "utility",
		Risk:        tools.RiskLow,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "Expression to evaluate, e.g. \"2+2\"."}
			},
			"required": ["expression"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"result": {"type": "number"}}
		}`),
	}
}

func (c *Calculator) Execute(ctx context.Context, input json.RawMessage, rc *tools.RunContext) (string, error) {
	var params struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	result, err := evaluate(params.Expression)
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(map[string]float64{"result": result})
	return string(out), nil
}

// evaluate parses and computes an arithmetic expression with the usual
// precedence: expr := term (('+'|'-') term)*, term := factor (('*'|'/')
// factor)*, factor := number | '(' expr ')' | '-' factor.
func evaluate(expression string) (float64, error) {
	p := &exprParser{input: strings.TrimSpace(expression)}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character at position %d", p.pos)
	}
	return result, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	switch {
	case p.input[p.pos] == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil

	case p.input[p.pos] == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -inner, nil

	default:
		start := p.pos
		for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
			p.pos++
		}
		if start == p.pos {
			return 0, fmt.Errorf("expected number at position %d", start)
		}
		value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
		}
		return value, nil
	}
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
