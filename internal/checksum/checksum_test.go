package checksum

import "testing"

func TestSum(t *testing.T) {
	a := Sum([]byte(`{"id":"a"}`))
	if len(a) != Size {
		t.Fatalf("len = %d", len(a))
	}
	if a != Sum([]byte(`{"id":"a"}`)) {
		t.Error("digest not stable")
	}
	if a == Sum([]byte(`{"id":"b"}`)) {
		t.Error("different inputs share a digest")
	}
}

func TestVerify(t *testing.T) {
	data := []byte("record")
	if !Verify(data, Sum(data)) {
		t.Error("own digest rejected")
	}
	for _, bad := range []string{"", "zz", Sum([]byte("other")), Sum(data) + "0"} {
		if Verify(data, bad) {
			t.Errorf("Verify accepted %q", bad)
		}
	}
}
