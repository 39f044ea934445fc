package identity

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusVerified, true},
		{StatusPending, StatusOnchain, true},
		{StatusPending, StatusFailed, true},
		{StatusVerified, StatusOnchain, true},
		{StatusVerified, StatusFailed, true},
		{StatusVerified, StatusPending, false},
		{StatusOnchain, StatusVerified, false},
		{StatusOnchain, StatusFailed, false},
		{StatusFailed, StatusVerified, false},
		{StatusFailed, StatusOnchain, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(StatusPending) || !Retryable(StatusFailed) {
		t.Error("pending and failed must be retryable")
	}
	if Retryable(StatusVerified) || Retryable(StatusOnchain) {
		t.Error("verified and onchain must not be retryable")
	}
}

func TestParsers(t *testing.T) {
	if p, err := ParsePlatform("discord"); err != nil || p != PlatformDiscord {
		t.Errorf("ParsePlatform(discord) = %v, %v", p, err)
	}
	if _, err := ParsePlatform("myspace"); err == nil {
		t.Error("ParsePlatform accepted an unknown platform")
	}
	if n, err := ParseNetwork("base"); err != nil || n != NetworkBase {
		t.Errorf("ParseNetwork(base) = %v, %v", n, err)
	}
	if _, err := ParseNetwork("solana"); err == nil {
		t.Error("ParseNetwork accepted an unknown network")
	}
	if k, err := ParseValidationKind("erc721_balance_check"); err != nil || k != ValidationERC721Balance {
		t.Errorf("ParseValidationKind = %v, %v", k, err)
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Error("ParseStatus accepted an unknown status")
	}
}
