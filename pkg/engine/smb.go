package engine

import (
	"regexp"
	"strings"

	"github.com/user/hostsweep/pkg/artifact"
)

var (
	localClientPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^192\.168\.`),
		regexp.MustCompile(`^10\.`),
		regexp.MustCompile(`^172\.(1[6-9]|2[0-9]|3[0-1])\.`),
		regexp.MustCompile(`^127\.0\.0\.1`),
	}
	guestUsernames     = []string{"guest", "anonymous", "admin", "administrator", "root", "support", "test", "backup"}
	maliciousUsernames = []string{"test", "backup", "scanner", "bot", "spider", "crawler", "attack", "exploit", "pwn", "hacker"}
	randomUsername     = regexp.MustCompile(`^[a-z0-9]{16,}$`)
)

const maxUsernameLength = 20

// SMBSessionAnalyzer flags inbound SMB sessions from outside the local
// network or with scanner-like user names.
func SMBSessionAnalyzer() Analyzer {
	return localAnalyzer[artifact.SMBSession]{
		category: CategorySMB,
		table:    artifact.TableSMB,
		records:  (*artifact.Repository).SMBSessions,
		subject:  func(s artifact.SMBSession) string { return s.ClientHost },
		check: func(s artifact.SMBSession, _ *artifact.Repository, _ *Env) (Finding, bool) {
			client := strings.TrimSpace(s.ClientHost)
			user := strings.ToLower(strings.TrimSpace(s.ClientUser))

			var rs reasons
			local := false
			for _, re := range localClientPatterns {
				if re.MatchString(client) {
					local = true
					break
				}
			}
			rs.when(!local, ReasonExternalClient)
			rs.when(containsAny(user, guestUsernames), ReasonGuestUser)
			rs.when(containsAny(user, maliciousUsernames), ReasonMaliciousUsername)
			rs.when(len([]rune(user)) > maxUsernameLength || randomUsername.MatchString(user), ReasonRandomUsername)
			return flag(CategorySMB, client, rs, Field{"user", user})
		},
	}
}
