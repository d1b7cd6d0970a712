// Copyright © 2024-2025 the wavemap authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package align

import (
	"testing"
)

func TestParseMappingRecord(t *testing.T) {
	var rec MappingRecord

	line := "q0 10000 0 100 + r0 2000 50 150 60 100 80 id:f:95.0"
	if err := ParseMappingRecord(line, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.QueryID != "q0" || rec.QStart != 0 || rec.QEnd != 100 {
		t.Errorf("unexpected query fields: %+v", rec)
	}
	if rec.Strand != StrandFwd {
		t.Errorf("unexpected strand: %c", rec.Strand)
	}
	if rec.RefID != "r0" || rec.RStart != 50 || rec.REnd != 150 {
		t.Errorf("unexpected target fields: %+v", rec)
	}
	if rec.EstIdentity != 95.0 {
		t.Errorf("unexpected identity: %f", rec.EstIdentity)
	}
}

func TestParseMappingRecordReverse(t *testing.T) {
	var rec MappingRecord
	line := "q1\t500\t10\t210\t-\tr1\t900\t300\t500\t99\t200\t60\tid:f:88.5"
	if err := ParseMappingRecord(line, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Strand != StrandRev {
		t.Errorf("unexpected strand: %c", rec.Strand)
	}
	if rec.EstIdentity != 88.5 {
		t.Errorf("unexpected identity: %f", rec.EstIdentity)
	}
}

func TestParseMappingRecordDefaults(t *testing.T) {
	var rec MappingRecord

	// no identity tag at all
	if err := ParseMappingRecord("q0 10000 0 100 + r0 2000 50 150", &rec); err != nil {
		t.Fatal(err)
	}
	if rec.EstIdentity != DefaultIdentity {
		t.Errorf("missing tag should default to %f, got %f", DefaultIdentity, rec.EstIdentity)
	}

	// non-numeric identity tag
	if err := ParseMappingRecord("q0 10000 0 100 + r0 2000 50 150 60 100 80 id:f:n/a", &rec); err != nil {
		t.Fatal(err)
	}
	if rec.EstIdentity != DefaultIdentity {
		t.Errorf("bad tag should default to %f, got %f", DefaultIdentity, rec.EstIdentity)
	}
}

func TestParseMappingRecordErrors(t *testing.T) {
	var rec MappingRecord
	if err := ParseMappingRecord("q0 10000 0 100 + r0 2000 50", &rec); err == nil {
		t.Error("rows with fewer than 9 fields should fail")
	}
	if err := ParseMappingRecord("q0 10000 x 100 + r0 2000 50 150", &rec); err == nil {
		t.Error("non-numeric coordinates should fail")
	}
}
