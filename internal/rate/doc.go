// Package rate implements Redis fixed-window counters that throttle password
// attempts per identifier and per client IP, and second-factor attempts per
// principal.
//
// A window starts with the first failure: INCR, then EXPIRE when the counter is 1.
// Keys:
//   - {prefix}:rl:login:{identifier}
//   - {prefix}:rl:ip:{ip}
//   - {prefix}:rl:2fa:{principal id}
package rate
