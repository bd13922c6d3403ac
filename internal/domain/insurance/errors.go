package insurance

import "github.com/medflow/billing/internal/platform/apperr"

var (
	ErrPolicyNotFound   = apperr.NotFound("POLICY_NOT_FOUND", "insurance policy not found")
	ErrPreAuthNotFound  = apperr.NotFound("PREAUTH_NOT_FOUND", "pre-authorization not found")
	ErrClaimNotFound    = apperr.NotFound("CLAIM_NOT_FOUND", "claim not found")
	ErrInvalidReference = apperr.NotFound("INVALID_REFERENCE", "policy does not belong to the bill's patient")

	ErrInvalidPolicy                = apperr.Validation("INVALID_POLICY", "invalid insurance policy")
	ErrPolicyExpired                = apperr.Validation("POLICY_EXPIRED", "policy is not valid at this time")
	ErrInvalidAmount                = apperr.Validation("INVALID_AMOUNT", "amount must be positive with at most 2 decimals")
	ErrApprovedAmountExceedsRequest = apperr.Validation("APPROVED_AMOUNT_EXCEEDS_REQUEST", "approved amount exceeds requested amount")
	ErrClaimAmountExceedsBill       = apperr.Validation("CLAIM_AMOUNT_EXCEEDS_BILL", "claim amount exceeds bill total")
	ErrRejectionReasonRequired      = apperr.Validation("REJECTION_REASON_REQUIRED", "rejection needs a reason")
	ErrQueryNoteRequired            = apperr.Validation("QUERY_NOTE_REQUIRED", "query needs a note")
	ErrApprovedAmountExceedsClaim   = apperr.Validation("APPROVED_AMOUNT_EXCEEDS_CLAIM", "approved amount exceeds claim amount")
	ErrPartialApprovalNotPartial    = apperr.Validation("PARTIAL_APPROVAL_NOT_PARTIAL", "partial approval must be below the claim amount")
	ErrInvalidOutcome               = apperr.Validation("INVALID_OUTCOME", "invalid claim outcome")
	ErrInvalidMessage               = apperr.Validation("INVALID_MESSAGE", "message must be between 1 and 4000 characters")

	ErrAlreadyDecided       = apperr.State("ALREADY_DECIDED", "already decided")
	ErrBillNotFinalized     = apperr.State("BILL_NOT_FINALIZED", "bill must be finalized before claiming")
	ErrBillNotClaimable     = apperr.State("BILL_NOT_CLAIMABLE", "bill has no balance left to claim")
	ErrPolicyAlreadyClaimed = apperr.State("POLICY_ALREADY_CLAIMED", "bill already has a settled claim on this policy")
	ErrClaimNotApproved     = apperr.State("CLAIM_NOT_APPROVED", "claim is not approved")
	ErrNotInQuery           = apperr.State("NOT_IN_QUERY", "claim has no open query")

	ErrDuplicatePolicy   = apperr.Conflict("DUPLICATE_POLICY", "policy number already registered for this insurer")
	ErrActiveClaimExists = apperr.Conflict("ACTIVE_CLAIM_EXISTS", "bill already has an open claim")
)
