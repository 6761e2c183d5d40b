package healing

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// State is the flat fact map a condition is evaluated against. Values
// are float64, string or bool.
type State map[string]any

// condition is a parsed boolean expression over state fields, e.g.
// `cpu_percent > 90 AND service == "web"`. Parsing happens once at rule
// load; evaluation is allocation-free.
type condition struct {
	root condNode
	src  string
}

// parseCondition compiles the expression text.
func parseCondition(src string) (*condition, error) {
	toks, err := lexCondition(src)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}
	p := &condParser{tokens: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("condition %q: unexpected %q", src, p.tokens[p.pos].text)
	}
	return &condition{root: root, src: src}, nil
}

// eval returns the truth value of the condition against the state. A
// missing field or type mismatch is an error; callers treat errors as
// false so a broken rule cannot fire actions.
func (c *condition) eval(state State) (bool, error) {
	return c.root.eval(state)
}

type condNode interface {
	eval(State) (bool, error)
}

type orNode struct{ left, right condNode }

func (n orNode) eval(s State) (bool, error) {
	l, err := n.left.eval(s)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return n.right.eval(s)
}

type andNode struct{ left, right condNode }

func (n andNode) eval(s State) (bool, error) {
	l, err := n.left.eval(s)
	if err != nil {
		return false, err
	}
	if !l {
		return false, nil
	}
	return n.right.eval(s)
}

type notNode struct{ inner condNode }

func (n notNode) eval(s State) (bool, error) {
	v, err := n.inner.eval(s)
	if err != nil {
		return false, err
	}
	return !v, nil
}

// cmpNode compares one state field against a literal.
type cmpNode struct {
	field string
	op    string
	num   float64
	str   string
	boolV bool
	kind  litKind
}

type litKind int

const (
	litNumber litKind = iota
	litString
	litBool
)

func (n cmpNode) eval(s State) (bool, error) {
	raw, ok := s[n.field]
	if !ok {
		return false, fmt.Errorf("unknown field %q", n.field)
	}

	switch n.kind {
	case litNumber:
		val, ok := toFloat(raw)
		if !ok {
			return false, fmt.Errorf("field %q is not numeric", n.field)
		}
		switch n.op {
		case "==":
			return val == n.num, nil
		case "!=":
			return val != n.num, nil
		case ">":
			return val > n.num, nil
		case ">=":
			return val >= n.num, nil
		case "<":
			return val < n.num, nil
		case "<=":
			return val <= n.num, nil
		}
	case litString:
		val, ok := raw.(string)
		if !ok {
			return false, fmt.Errorf("field %q is not a string", n.field)
		}
		switch n.op {
		case "==":
			return val == n.str, nil
		case "!=":
			return val != n.str, nil
		default:
			return false, fmt.Errorf("operator %q not valid for strings", n.op)
		}
	case litBool:
		val, ok := raw.(bool)
		if !ok {
			return false, fmt.Errorf("field %q is not a bool", n.field)
		}
		switch n.op {
		case "==":
			return val == n.boolV, nil
		case "!=":
			return val != n.boolV, nil
		default:
			return false, fmt.Errorf("operator %q not valid for bools", n.op)
		}
	}
	return false, fmt.Errorf("unsupported comparison")
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// --- lexer ---

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokKind
	text string
}

func lexCondition(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == '"' || r == '\'':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{tokString, string(runes[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(runes) && runes[j] == '=' {
				j++
			}
			op := string(runes[i:j])
			switch op {
			case "==", "!=", ">", ">=", "<", "<=":
				toks = append(toks, token{tokOp, op})
			default:
				return nil, fmt.Errorf("invalid operator %q", op)
			}
			i = j
		case unicode.IsDigit(r) || r == '-' || r == '.':
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{tokAnd, word})
			case "OR":
				toks = append(toks, token{tokOr, word})
			case "NOT":
				toks = append(toks, token{tokNot, word})
			default:
				toks = append(toks, token{tokIdent, word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	return toks, nil
}

// --- parser (recursive descent, OR < AND < NOT < comparison) ---

type condParser struct {
	tokens []token
	pos    int
}

func (p *condParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *condParser) parseOr() (condNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
}

func (p *condParser) parseAnd() (condNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
}

func (p *condParser) parseUnary() (condNode, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if t.kind == tokNot {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	if t.kind == tokLParen {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		t, ok := p.peek()
		if !ok || t.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (condNode, error) {
	t, ok := p.peek()
	if !ok || t.kind != tokIdent {
		return nil, fmt.Errorf("expected field name")
	}
	field := t.text
	p.pos++

	t, ok = p.peek()
	if !ok || t.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator after %q", field)
	}
	op := t.text
	p.pos++

	t, ok = p.peek()
	if !ok {
		return nil, fmt.Errorf("expected literal after %q %s", field, op)
	}
	p.pos++

	node := cmpNode{field: field, op: op}
	switch t.kind {
	case tokNumber:
		num, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		node.kind = litNumber
		node.num = num
	case tokString:
		node.kind = litString
		node.str = t.text
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			node.kind = litBool
			node.boolV = true
		case "false":
			node.kind = litBool
			node.boolV = false
		default:
			// Bare identifiers compare as strings, matching the
			// convention `severity == critical` in rule files.
			node.kind = litString
			node.str = t.text
		}
	default:
		return nil, fmt.Errorf("expected literal after %q %s", field, op)
	}
	return node, nil
}
