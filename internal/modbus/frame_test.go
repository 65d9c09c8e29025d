package modbus_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/KevinKickass/OpenMotionCore/internal/modbus"
)

var _ = Describe("Frame", func() {
	It("encodes a multiple register write", func() {
		f := modbus.WriteMultipleRegistersRequest(1, 0x2000, []uint16{0x0001, 0x1234})
		f.TransactionID = 7
		Expect(f.Encode()).To(Equal([]byte{
			0x00, 0x07, 0x00, 0x00, 0x00, 0x0B, 0x01,
			0x10, 0x20, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x12, 0x34,
		}))
	})

	It("decodes a read response", func() {
		f, err := modbus.DecodeFrame([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x01, 0x03, 0x04, 0x00, 0x0A, 0xFF, 0xFF})
		Expect(err).NotTo(HaveOccurred())
		regs, err := f.ParseRegisterResponse()
		Expect(err).NotTo(HaveOccurred())
		Expect(regs).To(Equal([]uint16{10, 0xFFFF}))
	})

	It("reports exception responses", func() {
		f, err := modbus.DecodeFrame([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0x86, 0x02})
		Expect(err).NotTo(HaveOccurred())

		var exc *modbus.ExceptionError
		Expect(errors.As(f.Err(), &exc)).To(BeTrue())
		Expect(exc.Function).To(Equal(uint8(0x06)))
		Expect(exc.Code).To(Equal(uint8(0x02)))
	})

	It("rejects malformed frames", func() {
		_, err := modbus.DecodeFrame([]byte{0x00, 0x01})
		Expect(err).To(HaveOccurred())

		_, err = modbus.DecodeFrame([]byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x03})
		Expect(err).To(MatchError(ContainSubstring("protocol ID")))

		_, err = modbus.DecodeFrame([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03})
		Expect(err).To(MatchError(ContainSubstring("length mismatch")))
	})
})
