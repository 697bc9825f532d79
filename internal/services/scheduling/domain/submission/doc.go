// Package submission implements the preference submission aggregate: one
// professor's scheduling preferences for one exam session period.
//
// A submission is created by Submit, revised by Update under an expected
// version check, and closed for good by Withdraw. Preference sets are
// validated on every submit and update; failed validations are recorded as
// audit events without changing the submission.
package submission
