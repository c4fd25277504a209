package wire

// Operation codes. Every request starts with the Request code of its
// pair and every response with the matching Response code; a caller
// receiving any other code treats the call as failed. The numeric
// values and the field order of each operation are frozen: changing
// either breaks wire compatibility.
const (
	// string name -> present flag, user record
	OpNewUserRequest int32 = iota
	OpNewUserResponse
	// (no fields) -> user records
	OpListUsersRequest
	OpListUsersResponse
	// string title, uid owner -> present flag, conversation header
	OpNewConversationRequest
	OpNewConversationResponse
	// (no fields) -> conversation headers
	OpListConversationsRequest
	OpListConversationsResponse
	// uid author, uid conversation, string body -> present flag, message record
	OpNewMessageRequest
	OpNewMessageResponse
	// uid collection -> message records
	OpGetMessagesByIdRequest
	OpGetMessagesByIdResponse
	// (no fields) -> string version, time started
	OpServerInfoRequest
	OpServerInfoResponse
	// uid collection -> conversation payloads
	OpGetConversationPayloadsByIdRequest
	OpGetConversationPayloadsByIdResponse

	// The four access-control toggles share one request layout:
	// uid conversation, uid actor, uid target, bool flag -> applied flag, int32 mask.
	// The removed toggle omits the bool (the flag only ever goes up).
	OpToggleMemberBitRequest
	OpToggleMemberBitResponse
	OpToggleOwnerBitRequest
	OpToggleOwnerBitResponse
	OpToggleCreatorBitRequest
	OpToggleCreatorBitResponse
	OpToggleRemovedBitRequest
	OpToggleRemovedBitResponse
	// uid conversation, uid user -> int32 mask
	OpGetAccessControlRequest
	OpGetAccessControlResponse

	// uid user, uid conversation -> int32 count
	OpGetUnseenCountRequest
	OpGetUnseenCountResponse
	// uid user, uid conversation, int32 delta -> int32 count
	OpUpdateUnseenCountRequest
	OpUpdateUnseenCountResponse
	// uid user -> nullable time
	OpGetLastStatusUpdateRequest
	OpGetLastStatusUpdateResponse
	// uid user, time -> nullable time
	OpSetLastStatusUpdateRequest
	OpSetLastStatusUpdateResponse
	// uid user -> uid/time map
	OpGetUpdatedConversationsRequest
	OpGetUpdatedConversationsResponse
	// uid user, uid conversation, time -> uid/time map
	OpAddUpdatedConversationRequest
	OpAddUpdatedConversationResponse

	// uid user -> uid collection
	OpGetUserInterestsRequest
	OpGetUserInterestsResponse
	// uid user, uid target -> uid collection
	OpAddUserInterestRequest
	OpAddUserInterestResponse
	OpRemoveUserInterestRequest
	OpRemoveUserInterestResponse
	// uid user -> uid collection
	OpGetConversationInterestsRequest
	OpGetConversationInterestsResponse
	// uid user, uid conversation -> uid collection
	OpAddConversationInterestRequest
	OpAddConversationInterestResponse
	OpRemoveConversationInterestRequest
	OpRemoveConversationInterestResponse

	// uid user -> present flag, status update report
	OpStatusUpdateRequest
	OpStatusUpdateResponse
)
