// Package modbus is a small Modbus/TCP client, enough to drive a spindle
// VFD: holding register reads and single or multiple register writes.
package modbus

import (
	"encoding/binary"
	"fmt"
)

// Frame is an MBAP header plus PDU.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	exceptionBit = 0x80
	headerLen    = 7
	// MaxFrameLen is the largest Modbus/TCP frame.
	MaxFrameLen = 260
)

// ExceptionError is a Modbus exception response.
type ExceptionError struct {
	Function uint8
	Code     uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X", e.Code, e.Function)
}

// Encode serializes the frame, filling in Length.
func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2)

	frame := make([]byte, headerLen+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)
	return frame
}

// DecodeFrame parses a received frame. Exception responses decode
// successfully; use Err to check them.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < headerLen+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}
	if frame.ProtocolID != 0 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}
	if int(frame.Length) != len(data)-headerLen+1 {
		return nil, fmt.Errorf("length mismatch: header %d, frame %d", frame.Length, len(data)-headerLen+1)
	}
	if len(data) > headerLen+1 {
		frame.Data = append([]byte(nil), data[headerLen+1:]...)
	}
	return frame, nil
}

// Err returns the exception carried by a response, nil for a normal one.
func (f *Frame) Err() error {
	if f.FunctionCode&exceptionBit == 0 {
		return nil
	}
	code := uint8(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{Function: f.FunctionCode &^ exceptionBit, Code: code}
}

// ReadHoldingRegistersRequest builds a function 0x03 request.
func ReadHoldingRegistersRequest(unitID uint8, startAddr, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeReadHoldingRegisters, Data: data}
}

// WriteSingleRegisterRequest builds a function 0x06 request.
func WriteSingleRegisterRequest(unitID uint8, addr, value uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeWriteSingleRegister, Data: data}
}

// WriteMultipleRegistersRequest builds a function 0x10 request.
func WriteMultipleRegistersRequest(unitID uint8, startAddr uint16, values []uint16) *Frame {
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}
}

// ParseRegisterResponse extracts the registers of a read response.
func (f *Frame) ParseRegisterResponse() ([]uint16, error) {
	if err := f.Err(); err != nil {
		return nil, err
	}
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}
	byteCount := int(f.Data[0])
	if byteCount%2 != 0 || len(f.Data) < byteCount+1 {
		return nil, fmt.Errorf("incomplete response data")
	}
	registers := make([]uint16, byteCount/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(f.Data[1+2*i:])
	}
	return registers, nil
}
