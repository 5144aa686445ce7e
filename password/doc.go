// Package password hashes and verifies secrets for the credential verifier.
//
// New hashes are always argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) remain verifiable so that imported
// accounts can log in; [Hasher.NeedsUpgrade] reports them for re-hashing.
//
// This package never stores or logs plaintext secrets.
package password
