package middleware

import (
	"net/http"
	"strings"

	"github.com/jobproof/jobproof/internal/auth"
	"github.com/jobproof/jobproof/internal/tokens"
)

// Auth validates the Bearer token on every request and stores the caller's
// identity in the context. Job edit tokens are additionally checked against
// the revocation store: sealing a job revokes every edit token issued for it
// before the seal.
func Auth(jwtService *auth.JWTService, revocations tokens.Store, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				reject(w, r, metrics, "missing_token")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				reject(w, r, metrics, "invalid_token")
				return
			}

			switch claims.Type {
			case auth.TokenTypeAccess:
				// Workspace-scoped, nothing further to check here.
			case auth.TokenTypeJobEdit:
				// An edit token is only valid for the job it names.
				if jobID := pathJobID(r.URL.Path); jobID != "" && jobID != claims.JobID {
					reject(w, r, metrics, "job_scope_mismatch")
					return
				}
				if revocations != nil && claims.IssuedAt != nil {
					revoked, err := revocations.IsRevoked(r.Context(), claims.JobID, claims.IssuedAt.Time)
					if err != nil {
						// Fail closed: a token that cannot be checked against
						// the revocation list does not get write access.
						reject(w, r, metrics, "revocation_check_failed")
						return
					}
					if revoked {
						reject(w, r, metrics, "revoked_token")
						return
					}
				}
			default:
				// Refresh tokens never authorize API calls.
				reject(w, r, metrics, "wrong_token_type")
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			if claims.WorkspaceID != "" {
				ctx = SetWorkspaceID(ctx, claims.WorkspaceID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// pathJobID extracts the job ID from /jobs/{id}/... paths.
func pathJobID(path string) string {
	if !strings.HasPrefix(path, "/jobs/") {
		return ""
	}
	rest := strings.TrimPrefix(path, "/jobs/")
	if idx := strings.Index(rest, "/"); idx != -1 {
		return rest[:idx]
	}
	return rest
}

// reject writes a 401 and records the failure reason.
func reject(w http.ResponseWriter, _ *http.Request, metrics *Metrics, reason string) {
	if metrics != nil {
		metrics.IncAuthFailures(reason)
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="jobproof"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
