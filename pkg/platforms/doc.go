// Package platforms transforms raw export records from third-party analytics
// platforms into the internal event shape.
//
// A Mapper is a pure transform: one raw JSON record in, one mapped event out,
// or an error when the record is structurally invalid. Decoding is strict:
// unknown fields reject the record. Timestamps are passed through as the raw
// string the platform emitted; validity and quota admission are decided
// downstream, so a record with an unparsable timestamp is structurally valid
// here.
package platforms
