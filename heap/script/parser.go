package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/scanner"

	"github.com/mna/marksweep/heap/value"
)

// ParseFiles is a helper function that parses the script files and returns
// the programs, in the same order as the files, along with any error
// encountered. Programs of files that failed to parse are nil.
func ParseFiles(ctx context.Context, files ...string) ([]*Program, error) {
	var errs []error

	progs := make([]*Program, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		b, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prog, err := Parse(file, b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		progs[i] = prog
	}
	return progs, errors.Join(errs...)
}

// Parse parses the script in src. The filename is only used for error
// positions. The returned error, if non-nil, wraps every syntax error found
// in the script, each prefixed with its position.
func Parse(filename string, src []byte) (*Program, error) {
	var p parser
	p.init(filename, src)

	prog := &Program{Filename: filename}
	for p.tok != scanner.EOF {
		if p.tok == '\n' {
			p.next()
			continue
		}
		if stmt := p.parseStmt(); stmt != nil {
			prog.Stmts = append(prog.Stmts, stmt)
		}
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return prog, nil
}

// bailout is the panic value used to abandon the current statement after a
// syntax error.
type bailout struct{}

type parser struct {
	sc   scanner.Scanner
	errs []error

	// current token
	tok rune
	lit string
	pos scanner.Position
}

func (p *parser) init(filename string, src []byte) {
	p.sc.Init(bytes.NewReader(src))
	p.sc.Filename = filename
	p.sc.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	p.sc.Whitespace = 1<<'\t' | 1<<'\r' | 1<<' '
	p.sc.Error = func(s *scanner.Scanner, msg string) {
		pos := s.Position
		if !pos.IsValid() {
			pos = s.Pos()
		}
		p.errs = append(p.errs, fmt.Errorf("%s: %s", pos, msg))
	}
	p.next()
}

func (p *parser) next() {
	p.tok = p.sc.Scan()
	p.lit = p.sc.TokenText()
	p.pos = p.sc.Position
}

func (p *parser) errorf(pos scanner.Position, format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf("%s: %s", pos, fmt.Sprintf(format, args...)))
	panic(bailout{})
}

func (p *parser) describe() string {
	switch p.tok {
	case scanner.EOF:
		return "end of file"
	case '\n':
		return "newline"
	default:
		return strconv.Quote(p.lit)
	}
}

func (p *parser) expect(tok rune, what string) string {
	lit := p.lit
	if p.tok != tok {
		p.errorf(p.pos, "expected %s, found %s", what, p.describe())
	}
	p.next()
	return lit
}

// parseStmt parses a statement up to and including its terminating newline.
// On error, it skips to the end of the line and returns nil.
func (p *parser) parseStmt() (stmt Stmt) {
	defer func() {
		if e := recover(); e != nil {
			if _, ok := e.(bailout); !ok {
				panic(e)
			}
			for p.tok != '\n' && p.tok != scanner.EOF {
				p.next()
			}
			stmt = nil
		}
	}()

	start := p.pos
	if p.tok != scanner.Ident {
		p.errorf(start, "expected statement, found %s", p.describe())
	}

	switch kw := p.lit; kw {
	case "alloc":
		p.next()
		s := &AllocStmt{Start: start}
		s.Names = append(s.Names, p.expect(scanner.Ident, "cell name"))
		for p.tok == scanner.Ident {
			s.Names = append(s.Names, p.lit)
			p.next()
		}
		stmt = s

	case "set":
		p.next()
		s := &SetStmt{Start: start}
		s.Name = p.expect(scanner.Ident, "cell name")
		p.expect('=', `"="`)
		s.Value = p.parseExpr()
		stmt = s

	case "root":
		p.next()
		stmt = &RootStmt{Start: start, Value: p.parseExpr()}

	case "unroot":
		p.next()
		stmt = &UnrootStmt{Start: start}

	case "collect":
		p.next()
		stmt = &CollectStmt{Start: start}

	case "dump":
		p.next()
		stmt = &DumpStmt{Start: start}

	default:
		p.errorf(start, "unknown statement %q", kw)
	}

	if p.tok != '\n' && p.tok != scanner.EOF {
		p.errorf(p.pos, "expected end of statement, found %s", p.describe())
	}
	return stmt
}

func (p *parser) parseExpr() Expr {
	start := p.pos
	switch p.tok {
	case '-':
		p.next()
		if p.tok != scanner.Int && p.tok != scanner.Float {
			p.errorf(p.pos, "expected number, found %s", p.describe())
		}
		return p.parseNumber(start, "-")

	case scanner.Int, scanner.Float:
		return p.parseNumber(start, "")

	case scanner.String:
		s, err := strconv.Unquote(p.lit)
		if err != nil {
			p.errorf(start, "invalid string %s: %s", p.lit, err)
		}
		p.next()
		return &Literal{Start: start, Value: value.String(s)}

	case scanner.Ident:
		if p.lit != "uninit" {
			p.errorf(start, "unexpected name %q, references must be prefixed with \"&\"", p.lit)
		}
		p.next()
		return &Literal{Start: start}

	case '&':
		p.next()
		return &RefExpr{Start: start, Name: p.expect(scanner.Ident, "cell name")}

	case '(':
		p.next()
		x := &ProductExpr{Start: start}
		for p.tok != ')' {
			x.Elems = append(x.Elems, p.parseExpr())
			if p.tok != ',' {
				break
			}
			p.next()
		}
		p.expect(')', `")"`)
		return x

	default:
		p.errorf(start, "expected expression, found %s", p.describe())
		return nil
	}
}

func (p *parser) parseNumber(start scanner.Position, sign string) Expr {
	lit := sign + p.lit
	if p.tok == scanner.Int {
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			p.errorf(start, "invalid integer %s: %s", lit, errors.Unwrap(err))
		}
		p.next()
		return &Literal{Start: start, Value: value.Int(n)}
	}

	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		p.errorf(start, "invalid float %s: %s", lit, errors.Unwrap(err))
	}
	p.next()
	return &Literal{Start: start, Value: value.Float(f)}
}
