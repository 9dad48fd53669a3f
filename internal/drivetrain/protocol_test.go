package drivetrain

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/fieldcortex/slamcore/internal/testutil"
)

func TestEncodeSetSpeeds_FrameLayout(t *testing.T) {
	buf := EncodeSetSpeeds(1.5, -2.5)
	if buf[0] != cmdSetSpeeds {
		t.Fatalf("tag byte = %#x, want %#x", buf[0], cmdSetSpeeds)
	}
	left := math.Float32frombits(binary.LittleEndian.Uint32(buf[1:5]))
	right := math.Float32frombits(binary.LittleEndian.Uint32(buf[5:9]))
	if left != 1.5 || right != -2.5 {
		t.Errorf("decoded speeds = (%v, %v), want (1.5, -2.5)", left, right)
	}
}

func TestEncodeEnableDisableOdometry(t *testing.T) {
	if got := EncodeEnableOdometry(); len(got) != 1 || got[0] != cmdEnableOdometry {
		t.Errorf("EncodeEnableOdometry = %v", got)
	}
	if got := EncodeDisableOdometry(); len(got) != 1 || got[0] != cmdDisableOdometry {
		t.Errorf("EncodeDisableOdometry = %v", got)
	}
}

func TestEncodeSetPID(t *testing.T) {
	buf := EncodeSetPID(0.25)
	if buf[0] != cmdSetPID {
		t.Fatalf("tag byte = %#x", buf[0])
	}
	kp := math.Float32frombits(binary.LittleEndian.Uint32(buf[1:5]))
	if kp != 0.25 {
		t.Errorf("kp = %v, want 0.25", kp)
	}
}

func TestDecodeTelemetry_RejectsWrongLength(t *testing.T) {
	_, err := DecodeTelemetry(make([]byte, TelemetryFrameSize-1))
	if err == nil {
		t.Fatal("expected error for wrong-length telemetry frame")
	}
}

func TestDecodeTelemetry_RoundTrips(t *testing.T) {
	buf := make([]byte, TelemetryFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(1000)))
	rightClicks := int32(-500)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rightClicks))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(45.0))

	tel, err := DecodeTelemetry(buf)
	testutil.AssertNoError(t, err)
	if tel.LeftClicks != 1000 || tel.RightClicks != -500 {
		t.Errorf("clicks = (%d, %d)", tel.LeftClicks, tel.RightClicks)
	}
	testutil.AssertFloatClose(t, float64(tel.YawDeg), 45.0, 1e-6, "yaw")
}

func TestTelemetry_WheelPositionsInvertsRightSign(t *testing.T) {
	tel := Telemetry{LeftClicks: ClicksPerRevolution, RightClicks: ClicksPerRevolution}
	left, right := tel.WheelPositionsMeters(0.04)
	wantLeft := ClicksToMeters(ClicksPerRevolution, 0.04)
	testutil.AssertFloatClose(t, left, wantLeft, 1e-9, "left meters")
	testutil.AssertFloatClose(t, right, -wantLeft, 1e-9, "right meters inverted")
}

func TestTelemetry_HeadingRadiansNegatesSign(t *testing.T) {
	tel := Telemetry{YawDeg: 90}
	got := tel.HeadingRadians()
	testutil.AssertFloatClose(t, got, -math.Pi/2, 1e-9, "negated heading")
}
