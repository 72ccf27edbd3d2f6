package cache

// Cache namespaces used by the entitlement engine and provisioner. Keys are
// customer-scoped; featureByCustomerId keys append the feature slug.
const (
	NamespaceFeatureByCustomerID       = "featureByCustomerId"
	NamespaceEntitlementsByCustomerID  = "entitlementsByCustomerId"
	NamespaceSubscriptionsByCustomerID = "subscriptionsByCustomerId"
)

// FeatureKey builds the featureByCustomerId key for one customer+feature pair.
func FeatureKey(customerID, featureSlug string) string {
	return customerID + ":" + featureSlug
}
