package modbus

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client is a Modbus/TCP master for one connection. Requests are
// serialized; a failed exchange drops the connection so the next request
// reconnects.
type Client struct {
	address       string
	timeout       time.Duration
	dial          func(ctx context.Context, network, address string) (net.Conn, error)
	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
}

// NewClient returns an unconnected client.
func NewClient(address string, timeout time.Duration) *Client {
	d := &net.Dialer{Timeout: timeout}
	return &Client{address: address, timeout: timeout, dial: d.DialContext}
}

// Address returns the remote address.
func (c *Client) Address() string {
	return c.address
}

// Connect opens the TCP connection if it is not open yet.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	c.conn = conn
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send writes a request and reads its response.
func (c *Client) Send(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	response, err := c.exchange(request)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		return nil, err
	}
	if response.TransactionID != request.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}
	if err := response.Err(); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) exchange(request *Frame) (*Frame, error) {
	if _, err := c.conn.Write(request.Encode()); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	length := int(header[4])<<8 | int(header[5])
	if length < 2 || headerLen+length-1 > MaxFrameLen {
		return nil, fmt.Errorf("invalid length %d", length)
	}
	buf := make([]byte, headerLen+length-1)
	copy(buf, header)
	if _, err := io.ReadFull(c.conn, buf[headerLen:]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(buf)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return response, nil
}

// ReadHoldingRegisters reads quantity registers from startAddr.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error) {
	response, err := c.Send(ctx, ReadHoldingRegistersRequest(unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}
	return response.ParseRegisterResponse()
}

// WriteSingleRegister writes one register.
func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error {
	_, err := c.Send(ctx, WriteSingleRegisterRequest(unitID, addr, value))
	return err
}

// WriteMultipleRegisters writes consecutive registers from startAddr.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID uint8, startAddr uint16, values []uint16) error {
	_, err := c.Send(ctx, WriteMultipleRegistersRequest(unitID, startAddr, values))
	return err
}
