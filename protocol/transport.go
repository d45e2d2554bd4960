package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
)

// DefaultMaxFrameBytes limita o tamanho de um quadro recebido
const DefaultMaxFrameBytes = 1 << 20

// ErrLink indica que o enlace com o par foi perdido ou corrompido
var ErrLink = errors.New("falha de enlace")

// Conn transporta uma mensagem por linha sobre uma conexão.
// A codificação JSON escapa quebras de linha, então cada quadro
// ocupa exatamente uma linha.
type Conn struct {
	conn     net.Conn
	reader   *bufio.Reader
	maxFrame int

	writeMu sync.Mutex
}

// NewConn envolve uma conexão com o enquadramento por linhas
func NewConn(conn net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}

	return &Conn{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		maxFrame: maxFrame,
	}
}

// RemoteAddr retorna o endereço do par
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send escreve um quadro de texto
func (c *Conn) Send(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("quadro contém quebra de linha")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrLink, err)
	}

	return nil
}

// Receive lê o próximo quadro de texto
func (c *Conn) Receive() (string, error) {
	var line []byte

	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)

		if len(line) > c.maxFrame+1 {
			return "", fmt.Errorf("%w: quadro excede %d bytes", ErrLink, c.maxFrame)
		}

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		return "", fmt.Errorf("%w: %v", ErrLink, err)
	}

	return strings.TrimRight(string(line), "\r\n"), nil
}

// SendMessage codifica e envia uma mensagem
func (c *Conn) SendMessage(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	return c.Send(string(data))
}

// ReceiveMessage recebe e decodifica uma mensagem.
// Um quadro malformado retorna ErrMalformed sem afetar o enlace.
func (c *Conn) ReceiveMessage() (Message, error) {
	text, err := c.Receive()
	if err != nil {
		return nil, err
	}

	return Decode([]byte(text))
}

// Close fecha a conexão
func (c *Conn) Close() error {
	return c.conn.Close()
}
