package render

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// TokenType represents the type of a content stream token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenName
	TokenString
	TokenHexString
	TokenArrayStart
	TokenArrayEnd
	TokenDictStart
	TokenDictEnd
	TokenOperator
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "eof"
	case TokenNumber:
		return "number"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenHexString:
		return "hex_string"
	case TokenArrayStart:
		return "array_start"
	case TokenArrayEnd:
		return "array_end"
	case TokenDictStart:
		return "dict_start"
	case TokenDictEnd:
		return "dict_end"
	case TokenOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// Token is a lexical token of a page content stream
type Token struct {
	Type  TokenType
	Value string
	Pos   int64
}

// ParseError reports a malformed content stream
type ParseError struct {
	Message string
	Pos     int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("content stream error at offset %d: %s", e.Pos, e.Message)
}

// Lexer tokenizes page content streams
type Lexer struct {
	reader   *bufio.Reader
	position int64
	current  byte
	hasNext  bool
	err      error
}

// NewLexer creates a new content stream lexer
func NewLexer(reader io.Reader) *Lexer {
	l := &Lexer{
		reader:   bufio.NewReader(reader),
		position: -1,
		hasNext:  true,
	}
	l.advance()
	return l
}

func (l *Lexer) advance() {
	if !l.hasNext {
		return
	}

	ch, err := l.reader.ReadByte()
	if err != nil {
		if err != io.EOF {
			l.err = err
		}
		l.hasNext = false
		l.current = 0
		return
	}

	l.current = ch
	l.position++
}

func (l *Lexer) peek() byte {
	if !l.hasNext {
		return 0
	}
	next, err := l.reader.Peek(1)
	if err != nil || len(next) == 0 {
		return 0
	}
	return next[0]
}

func (l *Lexer) skipComment() {
	for l.hasNext && l.current != '\n' && l.current != '\r' {
		l.advance()
	}
}

// Next returns the next token from the stream
func (l *Lexer) Next() (Token, error) {
	if l.err != nil {
		return Token{Type: TokenEOF, Pos: l.position}, l.err
	}

	for l.hasNext {
		if isWhitespace(l.current) {
			l.advance()
		} else if l.current == '%' {
			l.skipComment()
		} else {
			break
		}
	}

	if !l.hasNext {
		return Token{Type: TokenEOF, Pos: l.position}, nil
	}

	startPos := l.position

	switch l.current {
	case '(':
		return l.readLiteralString()
	case '<':
		if l.peek() == '<' {
			l.advance()
			l.advance()
			return Token{Type: TokenDictStart, Value: "<<", Pos: startPos}, nil
		}
		return l.readHexString()
	case '>':
		l.advance()
		if l.hasNext && l.current == '>' {
			l.advance()
			return Token{Type: TokenDictEnd, Value: ">>", Pos: startPos}, nil
		}
		return Token{}, &ParseError{Message: "unexpected '>'", Pos: startPos}
	case '[':
		l.advance()
		return Token{Type: TokenArrayStart, Value: "[", Pos: startPos}, nil
	case ']':
		l.advance()
		return Token{Type: TokenArrayEnd, Value: "]", Pos: startPos}, nil
	case '/':
		return l.readName()
	case '{', '}':
		// PostScript calculator braces never appear in page content; skip them.
		l.advance()
		return l.Next()
	default:
		if isDigit(l.current) || l.current == '+' || l.current == '-' || l.current == '.' {
			return l.readNumber()
		}
		return l.readOperator()
	}
}

func (l *Lexer) readLiteralString() (Token, error) {
	startPos := l.position
	var buffer bytes.Buffer

	l.advance()
	depth := 1

	for l.hasNext && depth > 0 {
		ch := l.current

		switch ch {
		case '(':
			depth++
			buffer.WriteByte(ch)
		case ')':
			depth--
			if depth > 0 {
				buffer.WriteByte(ch)
			}
		case '\\':
			l.advance()
			if !l.hasNext {
				break
			}
			switch l.current {
			case 'n':
				buffer.WriteByte('\n')
			case 'r':
				buffer.WriteByte('\r')
			case 't':
				buffer.WriteByte('\t')
			case 'b':
				buffer.WriteByte('\b')
			case 'f':
				buffer.WriteByte('\f')
			case '\n':
			case '\r':
				if l.peek() == '\n' {
					l.advance()
				}
			default:
				if l.current >= '0' && l.current <= '7' {
					octal := []byte{l.current}
					for i := 0; i < 2 && l.peek() >= '0' && l.peek() <= '7'; i++ {
						l.advance()
						octal = append(octal, l.current)
					}
					v, _ := strconv.ParseUint(string(octal), 8, 16)
					buffer.WriteByte(byte(v))
				} else {
					buffer.WriteByte(l.current)
				}
			}
		default:
			buffer.WriteByte(ch)
		}

		l.advance()
	}

	if depth > 0 {
		return Token{}, &ParseError{Message: "unterminated string", Pos: startPos}
	}

	return Token{Type: TokenString, Value: buffer.String(), Pos: startPos}, nil
}

func (l *Lexer) readHexString() (Token, error) {
	startPos := l.position
	var digits bytes.Buffer

	l.advance()

	for l.hasNext && l.current != '>' {
		if !isWhitespace(l.current) {
			if !isHexDigit(l.current) {
				return Token{}, &ParseError{Message: "invalid hex digit", Pos: l.position}
			}
			digits.WriteByte(l.current)
		}
		l.advance()
	}

	if !l.hasNext {
		return Token{}, &ParseError{Message: "unterminated hex string", Pos: startPos}
	}
	l.advance()

	hexStr := digits.String()
	if len(hexStr)%2 == 1 {
		hexStr += "0"
	}

	decoded := make([]byte, len(hexStr)/2)
	for i := range decoded {
		v, _ := strconv.ParseUint(hexStr[2*i:2*i+2], 16, 8)
		decoded[i] = byte(v)
	}

	return Token{Type: TokenHexString, Value: string(decoded), Pos: startPos}, nil
}

func (l *Lexer) readName() (Token, error) {
	startPos := l.position
	var buffer bytes.Buffer

	l.advance()

	for l.hasNext && isRegular(l.current) {
		if l.current == '#' && isHexDigit(l.peek()) {
			l.advance()
			hi := l.current
			l.advance()
			if l.hasNext && isHexDigit(l.current) {
				v, _ := strconv.ParseUint(string([]byte{hi, l.current}), 16, 8)
				buffer.WriteByte(byte(v))
				l.advance()
			} else {
				buffer.WriteByte('#')
				buffer.WriteByte(hi)
			}
			continue
		}
		buffer.WriteByte(l.current)
		l.advance()
	}

	return Token{Type: TokenName, Value: buffer.String(), Pos: startPos}, nil
}

func (l *Lexer) readNumber() (Token, error) {
	startPos := l.position
	var buffer bytes.Buffer

	if l.current == '+' || l.current == '-' {
		buffer.WriteByte(l.current)
		l.advance()
	}

	for l.hasNext && (isDigit(l.current) || l.current == '.') {
		buffer.WriteByte(l.current)
		l.advance()
	}

	return Token{Type: TokenNumber, Value: buffer.String(), Pos: startPos}, nil
}

func (l *Lexer) readOperator() (Token, error) {
	startPos := l.position
	var buffer bytes.Buffer

	for l.hasNext && isRegular(l.current) {
		buffer.WriteByte(l.current)
		l.advance()
	}

	if buffer.Len() == 0 {
		// A stray delimiter; consume it so the lexer always makes progress.
		ch := l.current
		l.advance()
		return Token{}, &ParseError{Message: fmt.Sprintf("unexpected character %q", ch), Pos: startPos}
	}

	return Token{Type: TokenOperator, Value: buffer.String(), Pos: startPos}, nil
}

// SkipInlineImageData discards inline image bytes following the ID
// operator up to and including the EI operator.
func (l *Lexer) SkipInlineImageData() error {
	// Exactly one whitespace byte separates ID from the data.
	if l.hasNext && isWhitespace(l.current) {
		l.advance()
	}

	var prev byte = ' '
	for l.hasNext {
		if isWhitespace(prev) && l.current == 'E' && l.peek() == 'I' {
			l.advance()
			l.advance()
			if !l.hasNext || isWhitespace(l.current) || isDelimiter(l.current) {
				return nil
			}
			prev = 'I'
			continue
		}
		prev = l.current
		l.advance()
	}

	return &ParseError{Message: "inline image without EI", Pos: l.position}
}

// Position returns the current offset in the stream
func (l *Lexer) Position() int64 {
	return l.position
}

func isWhitespace(ch byte) bool {
	return ch == 0 || ch == '\t' || ch == '\n' || ch == '\f' || ch == '\r' || ch == ' '
}

func isDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(ch byte) bool {
	return !isWhitespace(ch) && !isDelimiter(ch)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}
