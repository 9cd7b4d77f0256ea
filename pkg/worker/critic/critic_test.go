package critic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e2eforge/forge/pkg/worker/critic"
)

const goodTest = `
test('places an order', async () => {
  await page.click('[data-testid="place-order-btn"]');
  await expect(page).toHaveURL('/success');
  await page.screenshot({ path: 'step1.png' });
});
`

func TestReviewApprovesCleanTest(t *testing.T) {
	r := critic.Review(goodTest, critic.DefaultConfig())
	assert.Equal(t, critic.StatusApproved, r.Status)
	assert.Zero(t, r.Counters.Critical)
}

func TestReviewRejectsIndexSelector(t *testing.T) {
	src := `
test('x', async () => {
  await page.locator('button').nth(2).click();
  await expect(page).toHaveURL('/success');
  await page.screenshot();
});
`
	r := critic.Review(src, critic.DefaultConfig())
	assert.Equal(t, critic.StatusRejected, r.Status)
	found := false
	for _, iss := range r.Issues {
		if iss.Type == critic.IssueIndexSelector {
			found = true
		}
	}
	assert.True(t, found)
}

func TestReviewRejectsMissingAssertion(t *testing.T) {
	src := `
test('x', async () => {
  await page.click('[data-testid="go"]');
  await page.screenshot();
});
`
	r := critic.Review(src, critic.DefaultConfig())
	assert.Equal(t, critic.StatusRejected, r.Status)
}

func TestReviewRejectsIndefiniteWait(t *testing.T) {
	src := `
test('x', async () => {
  await page.click('[data-testid="go"]');
  await page.waitForTimeout(5000);
  await expect(page).toHaveURL('/success');
  await page.screenshot();
});
`
	r := critic.Review(src, critic.DefaultConfig())
	assert.Equal(t, critic.StatusRejected, r.Status)
}

func TestReviewRejectsHardcodedCredentials(t *testing.T) {
	src := `
test('x', async () => {
  const password = "hunter2-super-secret";
  await page.click('[data-testid="go"]');
  await expect(page).toHaveURL('/success');
  await page.screenshot();
});
`
	r := critic.Review(src, critic.DefaultConfig())
	assert.Equal(t, critic.StatusRejected, r.Status)
}

func TestReviewWarnsOnTooManySteps(t *testing.T) {
	src := "test('x', async () => {\n"
	for i := 0; i < 12; i++ {
		src += "  await page.click('[data-testid=\"step\"]');\n"
	}
	src += "  await expect(page).toHaveURL('/success');\n  await page.screenshot();\n});\n"

	cfg := critic.DefaultConfig()
	r := critic.Review(src, cfg)
	assert.Zero(t, r.Counters.Critical)
	assert.Positive(t, r.Counters.Warnings)
	assert.Equal(t, critic.StatusApproved, r.Status)
}

func TestFeedbackBlockEmptyWhenNoIssues(t *testing.T) {
	assert.Empty(t, critic.FeedbackBlock(nil))
}

func TestFeedbackBlockListsEachIssue(t *testing.T) {
	issues := []critic.Issue{
		{Type: critic.IssueMissingAssertion, Severity: critic.SeverityCritical, Reason: "no assertions", Fix: "add one"},
	}
	out := critic.FeedbackBlock(issues)
	assert.Contains(t, out, "missing_assertion")
	assert.Contains(t, out, "add one")
}
