// Package identity implements an application's authentication and
// authorization core: email/password login, one-time-code login, OAuth
// login, stored sessions, and role-based access control with an admin
// operations facade (ban, role change, deletion, impersonation, session
// revocation).
//
// Design notes:
//   - Sessions are rows. The signed handle handed to clients only names a
//     session id; revocation, expiry, ban state, and role are re-derived
//     from storage on every resolve, so admin mutations take effect on the
//     target's next request without reissuing anything.
//   - Credential verifiers are explicit composition. Service takes a list
//     of CredentialVerifier implementations plus a SessionManager and the
//     Admin facade, validated at construction; there is no plugin ordering
//     and no ambient configuration.
//   - Transport is someone else's problem. The package returns tokens and
//     expiries; cookies, routing, rendering, and SMTP live behind the
//     narrow Mailer and social.SocialProvider interfaces.
package identity
