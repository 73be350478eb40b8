package record_test

import (
	"encoding/json"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tracemap/pkg/record"
)

var _ = Describe("Record", func() {
	var fields map[string]interface{}
	var r record.Record

	BeforeEach(func() {
		fields = map[string]interface{}{
			"_name":        "roscpp:callback_start",
			"_timestamp":   json.Number("1500000000000000000"),
			"callback_ref": json.Number("18446744073709551615"),
			"procname":     "talker",
			"vpid":         12,
			"pid":          int64(13),
			"cycles":       float64(400),
			"ratio":        1.5,
		}
	})

	JustBeforeEach(func() {
		r = record.New(fields)
	})

	It("exposes the mandatory fields", func() {
		name, err := r.Name()
		Expect(err).To(Succeed())
		Expect(name).To(Equal("roscpp:callback_start"))

		ts, err := r.Timestamp()
		Expect(err).To(Succeed())
		Expect(ts).To(Equal(int64(1500000000000000000)))
	})

	It("is not affected by later changes to the source map", func() {
		fields["procname"] = "listener"
		Expect(r.StringOr("procname", "")).To(Equal("talker"))
	})

	It("keeps the bit pattern of unsigned references", func() {
		ref, err := r.Int("callback_ref")
		Expect(err).To(Succeed())
		Expect(ref).To(Equal(int64(-1)))
	})

	It("converts whole floats but rejects fractions", func() {
		cycles, err := r.Int("cycles")
		Expect(err).To(Succeed())
		Expect(cycles).To(Equal(int64(400)))

		_, err = r.Int("ratio")
		Expect(err).To(MatchError(record.ErrNotIntegral))
	})

	It("prefers the first present field", func() {
		pid, err := r.FirstInt(0, "vpid", "pid")
		Expect(err).To(Succeed())
		Expect(pid).To(Equal(int64(12)))

		tid, err := r.FirstInt(7, "vtid", "tid")
		Expect(err).To(Succeed())
		Expect(tid).To(Equal(int64(7)))
	})

	It("falls back to defaults for absent optional fields", func() {
		v, err := r.IntOr("trace_id", 0)
		Expect(err).To(Succeed())
		Expect(v).To(BeZero())
		Expect(r.StringOr("comm", "none")).To(Equal("none"))
	})

	When("a field is missing", func() {
		BeforeEach(func() {
			delete(fields, "_timestamp")
		})

		It("reports a missing field", func() {
			Expect(r.Has("_timestamp")).To(BeFalse())
			_, err := r.Timestamp()
			Expect(err).To(MatchError(record.ErrMissingField))
		})
	})

	When("a field has the wrong type", func() {
		BeforeEach(func() {
			fields["_name"] = 5
		})

		It("reports an invalid data type", func() {
			_, err := r.Name()
			Expect(err).To(MatchError(record.ErrInvalidDataType))
		})
	})
})

var _ = Describe("SliceSource", func() {
	It("yields records in order and then io.EOF", func() {
		src := record.FromSlice(
			record.New(map[string]interface{}{"_name": "a"}),
			record.New(map[string]interface{}{"_name": "b"}),
		)

		first, err := src.Next()
		Expect(err).To(Succeed())
		Expect(first.StringOr("_name", "")).To(Equal("a"))

		second, err := src.Next()
		Expect(err).To(Succeed())
		Expect(second.StringOr("_name", "")).To(Equal("b"))

		_, err = src.Next()
		Expect(err).To(Equal(io.EOF))
	})
})
