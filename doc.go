// Package auth provides the identity and session core of the contacts API:
// credential storage, password hashing, signed session tokens, email
// verification and avatar ingestion, plus Fiber HTTP handlers that expose them.
//
// Sessions:
//   - A user holds at most one live session. Login stores the freshly signed
//     token on the user record and every authenticated request compares the
//     presented token with the stored value, so a new login (or a logout)
//     invalidates any previously issued token immediately.
//   - The Auth Gate (middleware/authgate) performs both checks, signature and
//     expiry plus storage equality, and exposes the resolved Principal through
//     the request context.
//
// Verification:
//   - VerificationStateMachine moves a user from Unverified(token) to Verified.
//     IsVerified is true exactly when VerificationToken is empty; the invariant
//     is checked before every persisted transition.
//   - Verification mail is dispatched after the state change commits. Delivery
//     runs best-effort on its own goroutine; failures are logged and recorded
//     through the ActivitySink, never returned to the caller.
//
// Avatars:
//   - AvatarPipeline validates, decodes and resizes an uploaded image, publishes
//     it through an AvatarStore under a unique name and only then updates the
//     user record. The temporary upload is removed on every exit path.
package auth
