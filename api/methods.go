package api

import "github.com/anchorageoss/turnkey-sdk-go/activity"

const (
	queryPrefix  = "/public/v1/query/"
	submitPrefix = "/public/v1/submit/"
)

// DefaultMethods returns the method table for the endpoints this client
// calls by name. Callers may extend it through Config.Methods.
func DefaultMethods() activity.MethodTable {
	versioned := func(name, path, activityType, resultField string) activity.Method {
		m := activity.NewMethod(name, path)
		m.ActivityType = activityType
		m.ResultFieldName = resultField
		return m
	}

	methods := []activity.Method{
		activity.NewMethod("getWhoami", queryPrefix+"whoami"),
		activity.NewMethod("getActivity", queryPrefix+"get_activity"),
		activity.NewMethod("getActivities", queryPrefix+"list_activities"),
		activity.NewMethod("getWallets", queryPrefix+"list_wallets"),
		activity.NewMethod("getWalletAccounts", queryPrefix+"list_wallet_accounts"),
		activity.NewMethod("getUser", queryPrefix+"get_user"),
		activity.NewMethod("getUsers", queryPrefix+"list_users"),
		activity.NewMethod("getOrganization", queryPrefix+"get_organization"),
		activity.NewMethod("getAttestation", queryPrefix+"get_attestation"),

		activity.NewMethod("createWallet", submitPrefix+"create_wallet"),
		activity.NewMethod("createWalletAccounts", submitPrefix+"create_wallet_accounts"),
		activity.NewMethod("createReadOnlySession", submitPrefix+"create_read_only_session"),
		activity.NewMethod("initOtpAuth", submitPrefix+"init_otp_auth"),
		activity.NewMethod("otpAuth", submitPrefix+"otp_auth"),
		activity.NewMethod("emailAuth", submitPrefix+"email_auth"),
		versioned("signRawPayload", submitPrefix+"sign_raw_payload",
			"ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2", "signRawPayloadResult"),
		versioned("signTransaction", submitPrefix+"sign_transaction",
			"ACTIVITY_TYPE_SIGN_TRANSACTION_V2", "signTransactionResult"),
		versioned("createPrivateKeys", submitPrefix+"create_private_keys",
			"ACTIVITY_TYPE_CREATE_PRIVATE_KEYS_V2", "createPrivateKeysResultV2"),
		versioned("createSubOrganization", submitPrefix+"create_sub_organization",
			"ACTIVITY_TYPE_CREATE_SUB_ORGANIZATION_V7", "createSubOrganizationResultV7"),
		versioned("createApiKeys", submitPrefix+"create_api_keys",
			"ACTIVITY_TYPE_CREATE_API_KEYS_V2", "createApiKeysResult"),

		activity.NewMethod("approveActivity", submitPrefix+"approve_activity"),
		activity.NewMethod("rejectActivity", submitPrefix+"reject_activity"),
	}

	table := make(activity.MethodTable, len(methods))
	for _, m := range methods {
		table[m.Name] = m
	}
	return table
}
