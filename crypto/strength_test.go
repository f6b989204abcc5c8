package crypto

import "testing"

func TestAnalyzeStrengthFlagsShortPassphrase(t *testing.T) {
	report := AnalyzeStrength("abc")
	found := false
	for _, issue := range report.Issues {
		if issue == "Too short" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'Too short' issue, got %+v", report.Issues)
	}
}

func TestAnalyzeStrengthRewardsComplexity(t *testing.T) {
	weak := AnalyzeStrength("password")
	strong := AnalyzeStrength("Tr0ub4dor&3-xyzzy-PLUGH!")
	if strong.Score <= weak.Score {
		t.Fatalf("expected stronger passphrase to score higher: weak=%d strong=%d", weak.Score, strong.Score)
	}
}

func TestPasswordPolicyCheck(t *testing.T) {
	policy := PasswordPolicy{MinLength: 12, RequireUppercase: true, RequireNumbers: true}

	if err := policy.Check(""); err == nil {
		t.Fatalf("expected empty passphrase to fail when not allowed")
	}
	if err := policy.Check("alllowercase"); err == nil {
		t.Fatalf("expected missing uppercase/number to fail")
	}
	if err := policy.Check("Alllowercase1"); err != nil {
		t.Fatalf("expected valid passphrase to pass, got %v", err)
	}
}
