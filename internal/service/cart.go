package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// CartCheckoutRequest содержит параметры оформления корзины.
type CartCheckoutRequest struct {
	Notes         string
	PaymentMethod model.PaymentMethod
	Replace       bool
}

// GetCart возвращает корзину пользователя.
func (s *Service) GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	return s.carts.GetCart(ctx, userID)
}

// AddToCart добавляет товар в корзину. Товар другого заведения требует confirmSwitch,
// иначе возвращается model.ErrCartTenantSwitch.
func (s *Service) AddToCart(ctx context.Context, userID, productID uuid.UUID, quantity int, confirmSwitch bool) (*model.Cart, error) {
	products, err := s.catalog.GetProducts(ctx, []uuid.UUID{productID})
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	p, ok := products[productID]
	if !ok {
		return nil, model.ErrProductNotFound
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := cart.AddItem(p, quantity, confirmSwitch); err != nil {
		return nil, err
	}
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateCartItem меняет количество товара в корзине. Нулевое количество удаляет позицию.
func (s *Service) UpdateCartItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*model.Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := cart.SetQuantity(productID, quantity); err != nil {
		return nil, err
	}
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// ClearCart очищает корзину пользователя.
func (s *Service) ClearCart(ctx context.Context, userID uuid.UUID) error {
	return s.carts.DeleteCart(ctx, userID)
}

// CheckoutCart оформляет заказ из корзины. Корзина очищается, только если создан новый заказ.
func (s *Service) CheckoutCart(ctx context.Context, userID uuid.UUID, req CartCheckoutRequest) (*CheckoutResult, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, model.ErrEmptyCart
	}

	items := make([]ItemInput, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := s.Checkout(ctx, userID, CheckoutRequest{
		TenantID:      cart.TenantID,
		Items:         items,
		Notes:         req.Notes,
		PaymentMethod: req.PaymentMethod,
		Replace:       req.Replace,
	})
	if err != nil {
		return nil, err
	}

	if !res.Resumed {
		if err := s.carts.DeleteCart(ctx, userID); err != nil {
			s.logger.Warn("clear cart after checkout", zap.String("user", userID.String()), zap.Error(err))
		}
	}
	return res, nil
}
