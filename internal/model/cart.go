package model

import "github.com/google/uuid"

// CartItem описывает позицию корзины.
type CartItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Quantity  int       `json:"quantity"`
}

// Cart описывает корзину пользователя. Корзина привязана к одному заведению.
type Cart struct {
	UserID   uuid.UUID  `json:"user_id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	Items    []CartItem `json:"items"`
}

// NewCart создаёт пустую корзину пользователя.
func NewCart(userID uuid.UUID) *Cart {
	return &Cart{UserID: userID}
}

// AddItem добавляет товар в корзину. Товар другого заведения добавляется только с confirmSwitch,
// при этом прежнее содержимое корзины отбрасывается.
func (c *Cart) AddItem(p Product, quantity int, confirmSwitch bool) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !p.Available {
		return ErrProductUnavailable
	}

	if len(c.Items) > 0 && c.TenantID != p.TenantID {
		if !confirmSwitch {
			return ErrCartTenantSwitch
		}
		c.Items = nil
	}
	c.TenantID = p.TenantID

	for i := range c.Items {
		if c.Items[i].ProductID == p.ID {
			c.Items[i].Quantity += quantity
			c.Items[i].Price = p.Price
			return nil
		}
	}

	c.Items = append(c.Items, CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Quantity:  quantity,
	})
	return nil
}

// SetQuantity меняет количество товара. Нулевое количество удаляет позицию.
func (c *Cart) SetQuantity(productID uuid.UUID, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if quantity == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = quantity
		}
		if len(c.Items) == 0 {
			c.TenantID = uuid.Nil
		}
		return nil
	}
	return ErrProductNotFound
}

// Clear очищает корзину.
func (c *Cart) Clear() {
	c.Items = nil
	c.TenantID = uuid.Nil
}

// Subtotal возвращает сумму позиций корзины.
func (c *Cart) Subtotal() int64 {
	var sum int64
	for _, it := range c.Items {
		sum += it.Price * int64(it.Quantity)
	}
	return sum
}
